/*
Package depreciation provides the fixed-asset depreciation engine.

PURPOSE:
  This package computes, records and projects the declining book value of a
  fixed asset over its useful life. The math (Engine, Projector) is pure;
  the only stateful operation is the Recorder, which appends ledger entries
  through a narrow Store interface owned by the caller.

KEY CONCEPTS IN THIS FILE (types.go):
  - Asset: Read-only input owned by the asset registry
  - Entry: An immutable ledger row (amount taken + book value after it)
  - State: Accumulated depreciation and book value at a point in time
  - Method / Status: Closed enums, dispatched with a single switch

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only appended
  2. Precision: Money is decimal.Decimal, rounded to cents only where a
     formula produces a non-terminating value
  3. History wins: A recorded ledger always beats the analytical formula
  4. Floors: Book value never drops below residual value

USAGE:
  engine := depreciation.NewEngine()
  state, err := engine.ComputeAsOf(asset, asOf, entries)

SEE ALSO:
  - engine.go: Per-method formulas and ComputeAsOf
  - recorder.go: Appending entries with the residual floor
  - projector.go: Forward projection
  - schedule.go: Historical + projected schedule
*/
package depreciation

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for computed amounts.
const MoneyPlaces int32 = 2

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AssetID string
type EntryID string

// =============================================================================
// STATUS - Asset lifecycle (depreciation-relevant subset)
// =============================================================================

type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusInactive         Status = "INACTIVE"
	StatusUnderMaintenance Status = "UNDER_MAINTENANCE"
	StatusDisposed         Status = "DISPOSED"
	StatusFullyDepreciated Status = "FULLY_DEPRECIATED"
)

// ParseStatus converts a stored status string. Empty means ACTIVE.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case "":
		return StatusActive, true
	case StatusActive, StatusInactive, StatusUnderMaintenance, StatusDisposed, StatusFullyDepreciated:
		return Status(s), true
	}
	return "", false
}

// =============================================================================
// METHOD - Closed set of depreciation methods
// =============================================================================

type Method string

const (
	StraightLine           Method = "STRAIGHT_LINE"
	DecliningBalance       Method = "DECLINING_BALANCE"
	DoubleDecliningBalance Method = "DOUBLE_DECLINING_BALANCE"
	SumOfYearsDigits       Method = "SUM_OF_YEARS_DIGITS"
	UnitsOfProduction      Method = "UNITS_OF_PRODUCTION"
)

// Methods lists every supported method in display order.
var Methods = []Method{
	StraightLine,
	DecliningBalance,
	DoubleDecliningBalance,
	SumOfYearsDigits,
	UnitsOfProduction,
}

func (m Method) Valid() bool {
	switch m {
	case StraightLine, DecliningBalance, DoubleDecliningBalance, SumOfYearsDigits, UnitsOfProduction:
		return true
	}
	return false
}

// IsDeclining reports whether the method never reaches residual value on
// its own and needs the approximation horizon.
func (m Method) IsDeclining() bool {
	return m == DecliningBalance || m == DoubleDecliningBalance
}

// =============================================================================
// ASSET - Read-only input
// =============================================================================

type Asset struct {
	ID            AssetID
	Name          string
	PurchaseDate  time.Time
	PurchaseCost  decimal.Decimal
	ResidualValue decimal.Decimal
	LifeYears     int
	Method        Method
	Status        Status
}

// DepreciableAmount is the total that can ever be depreciated.
func (a Asset) DepreciableAmount() decimal.Decimal {
	return a.PurchaseCost.Sub(a.ResidualValue)
}

// LifeMonths is the nominal useful life in months.
func (a Asset) LifeMonths() int {
	return a.LifeYears * 12
}

// Validate checks the asset invariants the formulas rely on.
func (a Asset) Validate() error {
	if !a.Method.Valid() {
		return &AssetError{AssetID: a.ID, Err: ErrUnsupportedMethod, Detail: string(a.Method)}
	}
	switch {
	case a.PurchaseCost.IsNegative():
		return &AssetError{AssetID: a.ID, Err: ErrInvalidAsset, Detail: "purchase cost is negative"}
	case a.ResidualValue.IsNegative():
		return &AssetError{AssetID: a.ID, Err: ErrInvalidAsset, Detail: "residual value is negative"}
	case a.ResidualValue.GreaterThan(a.PurchaseCost):
		return &AssetError{AssetID: a.ID, Err: ErrInvalidAsset, Detail: "residual value exceeds purchase cost"}
	case a.LifeYears <= 0:
		return &AssetError{AssetID: a.ID, Err: ErrInvalidAsset, Detail: "asset life must be positive"}
	case a.PurchaseDate.IsZero():
		return &AssetError{AssetID: a.ID, Err: ErrInvalidAsset, Detail: "purchase date is required"}
	}
	return nil
}

// =============================================================================
// ENTRY - Append-only ledger row
// =============================================================================

type Entry struct {
	ID             EntryID
	AssetID        AssetID
	Date           time.Time
	Amount         decimal.Decimal // depreciation taken by this entry
	BookValue      decimal.Decimal // book value after this entry
	IdempotencyKey string
	Reason         string
	CreatedAt      time.Time
}

// =============================================================================
// STATE - Derived position at a point in time
// =============================================================================

// Source tells which branch of ComputeAsOf produced a State.
type Source string

const (
	SourceHistory    Source = "history"
	SourceAnalytical Source = "analytical"
)

type State struct {
	AssetID     AssetID
	AsOf        time.Time
	Accumulated decimal.Decimal
	BookValue   decimal.Decimal
	Entries     []Entry
	Source      Source

	// Approximate is set when the method could not be computed exactly
	// (units of production without usage data).
	Approximate bool
	Warnings    []string
}

// ProjectedEntry is an advisory future entry. Never persisted.
type ProjectedEntry struct {
	Date      time.Time
	Amount    decimal.Decimal
	BookValue decimal.Decimal
}

// =============================================================================
// HELPERS
// =============================================================================

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// latestEntry returns the last entry of a chronologically ordered ledger.
func latestEntry(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}
