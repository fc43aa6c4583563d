package depreciation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/depreciation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newRecorderFixture(t *testing.T, asset depreciation.Asset) (*depreciation.Recorder, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	require.NoError(t, s.SaveAsset(context.Background(), asset))

	recorder := depreciation.NewRecorder(s)
	recorder.Now = func() time.Time { return date(2030, time.January, 1) }
	return recorder, s
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetAsset(ctx context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	args := m.Called(ctx, id)
	asset, _ := args.Get(0).(*depreciation.Asset)
	return asset, args.Error(1)
}

func (m *mockStore) SetAssetStatus(ctx context.Context, id depreciation.AssetID, status depreciation.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockStore) Entries(ctx context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	args := m.Called(ctx, assetID)
	entries, _ := args.Get(0).([]depreciation.Entry)
	return entries, args.Error(1)
}

func (m *mockStore) AppendEntry(ctx context.Context, entry depreciation.Entry) error {
	return m.Called(ctx, entry).Error(0)
}

// =============================================================================
// RECORDING
// =============================================================================

func TestRecordDepreciation_AppendsEntry(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	recorder, s := newRecorderFixture(t, asset)

	res, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.February, 15), dec("250"))
	require.NoError(t, err)

	assertMoney(t, "12000", res.PreviousBookValue)
	assertMoney(t, "250", res.Entry.Amount)
	assertMoney(t, "11750", res.Entry.BookValue)
	assert.False(t, res.Adjusted)
	assert.False(t, res.StatusChanged)
	assert.NotEmpty(t, res.Entry.ID)
	assert.Equal(t, date(2030, time.January, 1), res.Entry.CreatedAt)

	entries, err := s.Entries(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.Entry, entries[0])
}

func TestRecordDepreciation_ClampsAtResidual(t *testing.T) {
	// GIVEN: book value 1900, residual 1000
	// WHEN: recording 1000
	// THEN: 900 is recorded, the result is flagged, the asset is FULLY_DEPRECIATED

	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "2000", "1000", 5)
	recorder, s := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.June, 30), dec("100"))
	require.NoError(t, err)

	res, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.December, 31), dec("1000"))
	require.NoError(t, err)

	assertMoney(t, "1900", res.PreviousBookValue)
	assertMoney(t, "1000", res.RequestedAmount)
	assertMoney(t, "900", res.Entry.Amount)
	assertMoney(t, "1000", res.Entry.BookValue)
	assert.True(t, res.Adjusted)
	assert.True(t, res.StatusChanged)

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, depreciation.StatusFullyDepreciated, stored.Status)
}

func TestRecordDepreciation_ExactlyToResidualIsNotAdjusted(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "2000", "500", 5)
	recorder, _ := newRecorderFixture(t, asset)

	res, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.March, 1), dec("1500"))
	require.NoError(t, err)
	assert.False(t, res.Adjusted)
	assert.True(t, res.StatusChanged)
}

func TestRecordDepreciation_FullyDepreciatedRejectsFurtherEntries(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "2000", "1000", 5)
	recorder, s := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.June, 30), dec("5000"))
	require.NoError(t, err)

	_, err = recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.July, 31), dec("1"))
	assert.ErrorIs(t, err, depreciation.ErrAssetFullyDepreciated)
	assert.True(t, depreciation.IsConflict(err))

	entries, err := s.Entries(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "nothing written")
}

func TestRecordDepreciation_ZeroAmountAllowed(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	recorder, _ := newRecorderFixture(t, asset)

	res, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.March, 1), dec("0"))
	require.NoError(t, err)
	assertMoney(t, "2000", res.Entry.BookValue)
}

func TestRecordDepreciation_LedgerReconcilesToBookValue(t *testing.T) {
	// THEN: sum of amounts == cost - latest book value after every write

	ctx := context.Background()
	asset := testAsset(depreciation.DoubleDecliningBalance, "7531.13", "431.07", 3)
	recorder, s := newRecorderFixture(t, asset)

	amounts := []string{"1200.55", "999.99", "0.01", "3000", "1500.75", "800"}
	for i, amount := range amounts {
		_, err := recorder.RecordDepreciation(ctx, asset.ID, depreciation.AddMonths(asset.PurchaseDate, i+1), dec(amount))
		if errors.Is(err, depreciation.ErrAssetFullyDepreciated) {
			break
		}
		require.NoError(t, err)

		entries, err := s.Entries(ctx, asset.ID)
		require.NoError(t, err)
		latest := entries[len(entries)-1]
		assert.True(t, depreciation.TotalAmount(entries).Equal(asset.PurchaseCost.Sub(latest.BookValue)))
		assert.True(t, latest.BookValue.GreaterThanOrEqual(asset.ResidualValue))
	}
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestRecordDepreciation_NegativeAmount(t *testing.T) {
	// GIVEN: a store that must not be touched
	s := new(mockStore)
	recorder := depreciation.NewRecorder(s)

	_, err := recorder.RecordDepreciation(context.Background(), "asset-1", date(2024, time.March, 1), dec("-1"))
	assert.ErrorIs(t, err, depreciation.ErrNegativeAmount)
	assert.True(t, depreciation.IsClientError(err))
	s.AssertExpectations(t)
	s.AssertNotCalled(t, "GetAsset", mock.Anything, mock.Anything)
}

func TestRecordDepreciation_AssetNotFound(t *testing.T) {
	s := store.NewTxMemory()
	recorder := depreciation.NewRecorder(s)

	_, err := recorder.RecordDepreciation(context.Background(), "missing", date(2024, time.March, 1), dec("10"))
	assert.ErrorIs(t, err, depreciation.ErrAssetNotFound)
	assert.True(t, depreciation.IsNotFound(err))
}

func TestRecordDepreciation_NilAssetIsNotFound(t *testing.T) {
	s := new(mockStore)
	s.On("GetAsset", mock.Anything, depreciation.AssetID("asset-1")).Return(nil, nil)
	recorder := depreciation.NewRecorder(s)

	_, err := recorder.RecordDepreciation(context.Background(), "asset-1", date(2024, time.March, 1), dec("10"))
	assert.ErrorIs(t, err, depreciation.ErrAssetNotFound)
	s.AssertExpectations(t)
}

func TestRecordDepreciation_DisposedAsset(t *testing.T) {
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	asset.Status = depreciation.StatusDisposed
	recorder, _ := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(context.Background(), asset.ID, date(2024, time.March, 1), dec("10"))
	assert.ErrorIs(t, err, depreciation.ErrAssetDisposed)
}

func TestRecordDepreciation_InactiveAssetStillRecords(t *testing.T) {
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	asset.Status = depreciation.StatusUnderMaintenance
	recorder, _ := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(context.Background(), asset.ID, date(2024, time.March, 1), dec("10"))
	assert.NoError(t, err)
}

func TestRecordDepreciation_Ordering(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	recorder, _ := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.June, 30), dec("100"))
	require.NoError(t, err)

	tests := []struct {
		name string
		date time.Time
	}{
		{"same date", date(2024, time.June, 30)},
		{"same date later time", time.Date(2024, time.June, 30, 18, 0, 0, 0, time.UTC)},
		{"earlier date", date(2024, time.May, 31)},
		{"before purchase", date(2023, time.December, 31)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recorder.RecordDepreciation(ctx, asset.ID, tt.date, dec("10"))
			assert.ErrorIs(t, err, depreciation.ErrInvalidEntryOrdering)

			var orderingErr *depreciation.OrderingError
			require.ErrorAs(t, err, &orderingErr)
			assert.Equal(t, asset.ID, orderingErr.AssetID)
		})
	}
}

func TestRecordDepreciation_BeforePurchaseWithEmptyLedger(t *testing.T) {
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	recorder, _ := newRecorderFixture(t, asset)

	_, err := recorder.RecordDepreciation(context.Background(), asset.ID, date(2024, time.January, 14), dec("10"))
	var orderingErr *depreciation.OrderingError
	require.ErrorAs(t, err, &orderingErr)
	assert.Equal(t, asset.PurchaseDate, orderingErr.Latest)
}

func TestRecordDepreciation_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	recorder, s := newRecorderFixture(t, asset)
	opts := depreciation.RecordOptions{IdempotencyKey: "import-42", Reason: "manual"}

	res, err := recorder.RecordDepreciationWithOptions(ctx, asset.ID, date(2024, time.February, 15), dec("250"), opts)
	require.NoError(t, err)
	assert.Equal(t, "manual", res.Entry.Reason)

	// A retry with a later date is still a replay.
	_, err = recorder.RecordDepreciationWithOptions(ctx, asset.ID, date(2024, time.March, 15), dec("250"), opts)
	assert.ErrorIs(t, err, depreciation.ErrDuplicateIdempotencyKey)

	entries, err := s.Entries(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// STORE FAILURES
// =============================================================================

func TestRecordDepreciation_AppendFailureSkipsStatusChange(t *testing.T) {
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	boom := errors.New("disk full")

	s := new(mockStore)
	s.On("GetAsset", mock.Anything, asset.ID).Return(&asset, nil)
	s.On("Entries", mock.Anything, asset.ID).Return([]depreciation.Entry{}, nil)
	s.On("AppendEntry", mock.Anything, mock.AnythingOfType("depreciation.Entry")).Return(boom)

	recorder := depreciation.NewRecorder(s)
	_, err := recorder.RecordDepreciation(context.Background(), asset.ID, date(2024, time.March, 1), dec("2000"))

	assert.ErrorIs(t, err, boom)
	s.AssertExpectations(t)
	s.AssertNotCalled(t, "SetAssetStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDepreciation_StatusFailureIsReturned(t *testing.T) {
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	boom := errors.New("registry unavailable")

	s := new(mockStore)
	s.On("GetAsset", mock.Anything, asset.ID).Return(&asset, nil)
	s.On("Entries", mock.Anything, asset.ID).Return([]depreciation.Entry{}, nil)
	s.On("AppendEntry", mock.Anything, mock.MatchedBy(func(e depreciation.Entry) bool {
		return e.BookValue.IsZero()
	})).Return(nil)
	s.On("SetAssetStatus", mock.Anything, asset.ID, depreciation.StatusFullyDepreciated).Return(boom)

	recorder := depreciation.NewRecorder(s)
	_, err := recorder.RecordDepreciation(context.Background(), asset.ID, date(2024, time.March, 1), dec("2000"))

	assert.ErrorIs(t, err, boom)
	s.AssertExpectations(t)
}

func TestRecordDepreciation_ZeroValueRecorder(t *testing.T) {
	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "2000", "0", 5)
	s := store.NewTxMemory()
	require.NoError(t, s.SaveAsset(ctx, asset))

	recorder := &depreciation.Recorder{Store: s}
	res, err := recorder.RecordDepreciation(ctx, asset.ID, date(2024, time.March, 1), dec("10"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Entry.ID)
	assert.False(t, res.Entry.CreatedAt.IsZero())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecordDepreciation_ConcurrentWritersKeepLedgerConsistent(t *testing.T) {
	// GIVEN: many goroutines recording on the same asset at once
	// THEN: the ledger stays strictly ordered and every book value chains
	//       from the previous one

	ctx := context.Background()
	asset := testAsset(depreciation.StraightLine, "100000", "1000", 10)
	recorder, s := newRecorderFixture(t, asset)

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(month int) {
			defer wg.Done()
			_, err := recorder.RecordDepreciationWithOptions(ctx, asset.ID,
				depreciation.AddMonths(asset.PurchaseDate, month), dec("500"),
				depreciation.RecordOptions{IdempotencyKey: fmt.Sprintf("k-%d", month)})
			if err != nil {
				assert.ErrorIs(t, err, depreciation.ErrInvalidEntryOrdering)
			}
		}(i)
	}
	wg.Wait()

	entries, err := s.Entries(ctx, asset.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	previous := asset.PurchaseCost
	for i, e := range entries {
		if i > 0 {
			assert.True(t, e.Date.After(entries[i-1].Date))
		}
		assert.True(t, previous.Sub(e.Amount).Equal(e.BookValue))
		previous = e.BookValue
	}
}

func TestRecordDepreciation_DifferentAssetsInParallel(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	recorder := depreciation.NewRecorder(s)

	for i := 0; i < 10; i++ {
		a := testAsset(depreciation.StraightLine, "1200", "0", 1)
		a.ID = depreciation.AssetID(fmt.Sprintf("asset-%d", i))
		require.NoError(t, s.SaveAsset(ctx, a))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id depreciation.AssetID) {
			defer wg.Done()
			for m := 1; m <= 12; m++ {
				_, err := recorder.RecordDepreciation(ctx, id, depreciation.AddMonths(date(2024, time.January, 15), m), dec("100"))
				assert.NoError(t, err)
			}
		}(depreciation.AssetID(fmt.Sprintf("asset-%d", i)))
	}
	wg.Wait()

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	for _, a := range assets {
		assert.Equal(t, depreciation.StatusFullyDepreciated, a.Status, string(a.ID))
	}
}
