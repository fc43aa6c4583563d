/*
errors.go - Centralized error types for the depreciation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is / errors.As; the API layer maps
  them to HTTP status codes.

ERROR CATEGORIES:
  1. Lookup errors - unknown asset
  2. Configuration errors - unsupported method, invalid asset
  3. Boundary errors - negative amount, bad ordering, terminal status
  4. Store errors - duplicate idempotency key, missing capability

NOT AN ERROR:
  Over-depreciation (an amount that would take book value below residual)
  is clamped by the Recorder and reported via RecordResult.Adjusted.

SEE ALSO:
  - recorder.go: Produces most boundary errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package depreciation

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAssetNotFound is returned when the registry has no such asset.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrUnsupportedMethod is returned for a method outside the closed set.
	ErrUnsupportedMethod = errors.New("unsupported depreciation method")

	// ErrInvalidAsset is returned when asset parameters break the model
	// (negative cost, residual above cost, non-positive life).
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrInvalidEntryOrdering is returned when a new entry is not strictly
	// after the latest one. Entries are never reordered.
	ErrInvalidEntryOrdering = errors.New("entry date must be after the latest entry")

	// ErrNegativeAmount is returned for negative depreciation amounts.
	ErrNegativeAmount = errors.New("depreciation amount must not be negative")

	// ErrAssetFullyDepreciated is returned when book value already equals
	// residual value.
	ErrAssetFullyDepreciated = errors.New("asset is fully depreciated")

	// ErrAssetDisposed is returned when recording against a disposed asset.
	ErrAssetDisposed = errors.New("asset is disposed")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrProjectionTooLong is returned when a projection asks for more than
	// MaxProjectionPeriods months.
	ErrProjectionTooLong = errors.New("projection period count exceeds limit")

	// ErrStoreRequired is returned when an operation needs a store capability
	// the configured store does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AssetError ties a sentinel to the asset it was raised for.
type AssetError struct {
	AssetID AssetID
	Err     error
	Detail  string
}

func (e *AssetError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("asset %s: %v", e.AssetID, e.Err)
	}
	return fmt.Sprintf("asset %s: %v: %s", e.AssetID, e.Err, e.Detail)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// OrderingError provides details about an out-of-order entry.
type OrderingError struct {
	AssetID   AssetID
	Latest    time.Time // zero when the floor is the purchase date
	Attempted time.Time
	Reason    string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("asset %s: %s (latest %s, attempted %s)",
		e.AssetID, e.Reason, e.Latest.Format(time.DateOnly), e.Attempted.Format(time.DateOnly))
}

func (e *OrderingError) Unwrap() error {
	return ErrInvalidEntryOrdering
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing asset.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound)
}

// IsConflict returns true if the error is caused by the current ledger state
// rather than by the request itself.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidEntryOrdering) ||
		errors.Is(err, ErrAssetFullyDepreciated) ||
		errors.Is(err, ErrAssetDisposed) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrUnsupportedMethod) ||
		errors.Is(err, ErrInvalidAsset) ||
		errors.Is(err, ErrProjectionTooLong)
}
