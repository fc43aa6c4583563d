package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/depreciation/store"
)

// Compile-time interface checks.
var (
	_ depreciation.TxStore     = (*store.TxMemory)(nil)
	_ depreciation.AssetLister = (*store.Memory)(nil)
	_ depreciation.RunLog      = (*store.Memory)(nil)
)

func laptop() depreciation.Asset {
	return depreciation.Asset{
		ID:            "laptop-1",
		Name:          "Laptop",
		PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		PurchaseCost:  decimal.RequireFromString("2400"),
		ResidualValue: decimal.RequireFromString("0"),
		LifeYears:     2,
		Method:        depreciation.StraightLine,
	}
}

func entry(id string, day int, amount, book string) depreciation.Entry {
	return depreciation.Entry{
		ID:        depreciation.EntryID(id),
		AssetID:   "laptop-1",
		Date:      time.Date(2024, time.April, day, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.RequireFromString(amount),
		BookValue: decimal.RequireFromString(book),
	}
}

func TestMemory_AssetLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.GetAsset(ctx, "laptop-1")
	assert.ErrorIs(t, err, depreciation.ErrAssetNotFound)

	require.NoError(t, m.SaveAsset(ctx, laptop()))
	got, err := m.GetAsset(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Equal(t, depreciation.StatusActive, got.Status, "empty status defaults to ACTIVE")

	require.NoError(t, m.SetAssetStatus(ctx, "laptop-1", depreciation.StatusUnderMaintenance))
	got, err = m.GetAsset(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Equal(t, depreciation.StatusUnderMaintenance, got.Status)

	err = m.SetAssetStatus(ctx, "nope", depreciation.StatusDisposed)
	assert.ErrorIs(t, err, depreciation.ErrAssetNotFound)
}

func TestMemory_ListAssetsSortedByID(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, id := range []depreciation.AssetID{"c", "a", "b"} {
		a := laptop()
		a.ID = id
		require.NoError(t, m.SaveAsset(ctx, a))
	}

	assets, err := m.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, depreciation.AssetID("a"), assets[0].ID)
	assert.Equal(t, depreciation.AssetID("c"), assets[2].ID)
}

func TestMemory_EntriesOrderedByDate(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendEntry(ctx, entry("e2", 20, "100", "2200")))
	require.NoError(t, m.AppendEntry(ctx, entry("e1", 10, "100", "2300")))
	require.NoError(t, m.AppendEntry(ctx, entry("e3", 30, "100", "2100")))

	entries, err := m.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, depreciation.EntryID("e1"), entries[0].ID)
	assert.Equal(t, depreciation.EntryID("e3"), entries[2].ID)

	// Returned slice is a copy.
	entries[0].ID = "mutated"
	again, err := m.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Equal(t, depreciation.EntryID("e1"), again[0].ID)
}

func TestMemory_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	first := entry("e1", 10, "100", "2300")
	first.IdempotencyKey = "k1"
	require.NoError(t, m.AppendEntry(ctx, first))

	second := entry("e2", 20, "100", "2200")
	second.IdempotencyKey = "k1"
	assert.ErrorIs(t, m.AppendEntry(ctx, second), depreciation.ErrDuplicateIdempotencyKey)

	entries, err := m.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Keys are scoped to one asset's ledger.
	other := entry("e3", 20, "100", "2300")
	other.AssetID = "laptop-2"
	other.IdempotencyKey = "k1"
	require.NoError(t, m.AppendEntry(ctx, other))
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: a transaction that appends, changes status, then fails
	// THEN: nothing it wrote survives

	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, tm.SaveAsset(ctx, laptop()))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s depreciation.Store) error {
		if err := s.AppendEntry(ctx, entry("e1", 10, "2400", "0")); err != nil {
			return err
		}
		if err := s.SetAssetStatus(ctx, "laptop-1", depreciation.StatusFullyDepreciated); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := tm.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err := tm.GetAsset(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Equal(t, depreciation.StatusActive, got.Status)
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, tm.SaveAsset(ctx, laptop()))

	err := tm.WithTx(ctx, func(s depreciation.Store) error {
		entries, err := s.Entries(ctx, "laptop-1")
		if err != nil {
			return err
		}
		assert.Empty(t, entries)
		return s.AppendEntry(ctx, entry("e1", 10, "100", "2300"))
	})
	require.NoError(t, err)

	entries, err := tm.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemory_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SaveRun(ctx, depreciation.RunRecord{ID: "r1", Status: depreciation.RunRunning}))
	require.NoError(t, m.SaveRun(ctx, depreciation.RunRecord{ID: "r2", Status: depreciation.RunCompleted}))
	require.NoError(t, m.SaveRun(ctx, depreciation.RunRecord{ID: "r1", Status: depreciation.RunFailed}))

	runs, err := m.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, depreciation.RunFailed, runs[1].Status)

	runs, err = m.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveAsset(ctx, laptop()))
	require.NoError(t, m.AppendEntry(ctx, entry("e1", 10, "100", "2300")))

	require.NoError(t, m.Reset(ctx))

	assets, err := m.ListAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)
	entries, err := m.Entries(ctx, "laptop-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
