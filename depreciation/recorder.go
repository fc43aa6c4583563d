/*
recorder.go - Appending depreciation entries

PURPOSE:
  The Recorder is the only component that writes. It appends one entry per
  call, enforcing the residual floor and moving the asset to
  FULLY_DEPRECIATED when the floor is reached.

CRITICAL INVARIANTS:
  1. Entries for an asset are strictly increasing in date
  2. BookValue = previous book value - Amount
  3. BookValue >= ResidualValue, always
  4. Sum of amounts never exceeds the depreciable amount

CLAMPING:
  An amount that would take book value below residual is not an error. It is
  reduced to (previous - residual), the result is flagged Adjusted, and the
  status transition happens in the same write.

CONCURRENCY:
  Recordings for one asset are serialized with a per-asset lock; the
  read-latest / append / set-status sequence runs inside TxStore.WithTx when
  the store supports it. Different assets never block each other.

SEE ALSO:
  - store.go: Store / TxStore
  - errors.go: Boundary errors returned here
*/
package depreciation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Recorder appends ledger entries for assets.
type Recorder struct {
	Store Store

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() EntryID

	locks keyedMutex
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// RecordOptions carries optional metadata for a recording.
type RecordOptions struct {
	// IdempotencyKey makes a recording safe to retry. A replay returns
	// ErrDuplicateIdempotencyKey without writing.
	IdempotencyKey string
	Reason         string
}

// RecordResult describes what was actually written.
type RecordResult struct {
	Entry             Entry
	PreviousBookValue decimal.Decimal
	RequestedAmount   decimal.Decimal

	// Adjusted is true when the requested amount was clamped to keep book
	// value at residual value.
	Adjusted bool

	// StatusChanged is true when this recording moved the asset to
	// FULLY_DEPRECIATED.
	StatusChanged bool
}

// RecordDepreciation appends an entry of `amount` dated `date`.
func (r *Recorder) RecordDepreciation(ctx context.Context, assetID AssetID, date time.Time, amount decimal.Decimal) (*RecordResult, error) {
	return r.RecordDepreciationWithOptions(ctx, assetID, date, amount, RecordOptions{})
}

// RecordDepreciationWithOptions is RecordDepreciation with an idempotency
// key and reason.
func (r *Recorder) RecordDepreciationWithOptions(ctx context.Context, assetID AssetID, date time.Time, amount decimal.Decimal, opts RecordOptions) (*RecordResult, error) {
	if amount.IsNegative() {
		return nil, &AssetError{AssetID: assetID, Err: ErrNegativeAmount, Detail: amount.String()}
	}

	unlock := r.locks.Lock(assetID)
	defer unlock()

	var result *RecordResult
	err := r.withTx(ctx, func(s Store) error {
		res, err := r.record(ctx, s, assetID, date, amount, opts)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Recorder) newID() EntryID {
	if r.NewID != nil {
		return r.NewID()
	}
	return EntryID(uuid.NewString())
}

func (r *Recorder) withTx(ctx context.Context, fn func(Store) error) error {
	if txStore, ok := r.Store.(TxStore); ok {
		return txStore.WithTx(ctx, fn)
	}
	return fn(r.Store)
}

func (r *Recorder) record(ctx context.Context, s Store, assetID AssetID, date time.Time, amount decimal.Decimal, opts RecordOptions) (*RecordResult, error) {
	asset, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &AssetError{AssetID: assetID, Err: ErrAssetNotFound}
	}
	if asset.Status == StatusDisposed {
		return nil, &AssetError{AssetID: assetID, Err: ErrAssetDisposed}
	}

	entries, err := s.Entries(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if opts.IdempotencyKey != "" {
		for _, e := range entries {
			if e.IdempotencyKey == opts.IdempotencyKey {
				return nil, ErrDuplicateIdempotencyKey
			}
		}
	}

	day := dateOnly(date)
	if day.Before(dateOnly(asset.PurchaseDate)) {
		return nil, &OrderingError{
			AssetID:   assetID,
			Latest:    dateOnly(asset.PurchaseDate),
			Attempted: day,
			Reason:    "entry date is before the purchase date",
		}
	}

	previous := asset.PurchaseCost
	if latest, ok := latestEntry(entries); ok {
		if !day.After(dateOnly(latest.Date)) {
			return nil, &OrderingError{
				AssetID:   assetID,
				Latest:    dateOnly(latest.Date),
				Attempted: day,
				Reason:    "entry date is not after the latest entry",
			}
		}
		previous = latest.BookValue
	}

	if !previous.GreaterThan(asset.ResidualValue) {
		return nil, &AssetError{AssetID: assetID, Err: ErrAssetFullyDepreciated}
	}

	applied := amount
	adjusted := false
	if previous.Sub(amount).LessThan(asset.ResidualValue) {
		applied = previous.Sub(asset.ResidualValue)
		adjusted = true
	}
	bookValue := previous.Sub(applied)

	entry := Entry{
		ID:             r.newID(),
		AssetID:        assetID,
		Date:           day,
		Amount:         applied,
		BookValue:      bookValue,
		IdempotencyKey: opts.IdempotencyKey,
		Reason:         opts.Reason,
		CreatedAt:      r.now(),
	}
	if err := s.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	statusChanged := false
	if bookValue.Equal(asset.ResidualValue) && asset.Status != StatusFullyDepreciated {
		if err := s.SetAssetStatus(ctx, assetID, StatusFullyDepreciated); err != nil {
			return nil, err
		}
		statusChanged = true
	}

	return &RecordResult{
		Entry:             entry,
		PreviousBookValue: previous,
		RequestedAmount:   amount,
		Adjusted:          adjusted,
		StatusChanged:     statusChanged,
	}, nil
}

// =============================================================================
// PER-ASSET LOCKS
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[AssetID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for id and returns its release function. Entries
// are dropped from the map once no goroutine holds or waits on them.
func (k *keyedMutex) Lock(id AssetID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[AssetID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
