/*
engine.go - Pure depreciation math

PURPOSE:
  Derives accumulated depreciation and book value for an asset at a date.
  Every method shares one signature, (asset, elapsedMonths) -> accumulated,
  dispatched by a single switch in accumulated().

HISTORY vs ANALYTICAL:
  ComputeAsOf has exactly two branches, checked in this order:
  1. Ledger entries dated on or before asOf exist: the latest entry's book
     value is authoritative. Nothing in the past is recomputed.
  2. Otherwise: the method formula is evaluated for the elapsed months and a
     single synthetic entry dated asOf is returned.

FORMULAS (M = elapsed months, L = life*12, D = depreciable amount):
  STRAIGHT_LINE              D * min(M, L) / L
  DECLINING_BALANCE          cost - max(cost * (1-r)^(M/12), residual), r = 1.5/life
  DOUBLE_DECLINING_BALANCE   same, r = 2/life
  SUM_OF_YEARS_DIGITS        full years weighted (life-k+1)/sum, partial year pro-rated
  UNITS_OF_PRODUCTION        straight line, flagged Approximate

  Results are rounded to cents and clamped to [0, D].

HORIZON:
  The horizon is L months, except for declining-balance methods, which
  approach residual value asymptotically: they are treated as fully
  depreciated at purchase + L*factor months, factor =
  DefaultDecliningLifeFactor unless the Engine overrides it. For every
  method the horizon month writes off the remainder (PeriodAmount).

SEE ALSO:
  - months.go: ElapsedMonths boundary rule
  - projector.go, posting.go: Use PeriodAmount
*/
package depreciation

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxProjectionPeriods bounds projections; declining methods never stop on
// their own.
const MaxProjectionPeriods = 1200

// DefaultDecliningLifeFactor is the multiple of the straight-line life after
// which declining-balance assets are considered fully depreciated.
var DefaultDecliningLifeFactor = decimal.RequireFromString("1.2")

// UnitsOfProductionWarning is attached to every result computed for a units
// of production asset.
const UnitsOfProductionWarning = "units of production has no usage data; straight-line approximation used"

var (
	decliningMultiplier       = 1.5
	doubleDecliningMultiplier = 2.0
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine evaluates depreciation formulas. The zero value is usable and
// behaves like NewEngine().
type Engine struct {
	// DecliningLifeFactor overrides DefaultDecliningLifeFactor when positive.
	DecliningLifeFactor decimal.Decimal
}

func NewEngine() Engine {
	return Engine{DecliningLifeFactor: DefaultDecliningLifeFactor}
}

func (e Engine) lifeFactor() decimal.Decimal {
	if e.DecliningLifeFactor.IsPositive() {
		return e.DecliningLifeFactor
	}
	return DefaultDecliningLifeFactor
}

// ComputeAsOf derives the asset's position at asOf.
// history must be ordered oldest first.
func (e Engine) ComputeAsOf(asset Asset, asOf time.Time, history []Entry) (State, error) {
	if err := asset.Validate(); err != nil {
		return State{}, err
	}

	if recorded := entriesAsOf(history, asOf); len(recorded) > 0 {
		return e.fromHistory(asset, asOf, recorded), nil
	}
	return e.analytical(asset, asOf)
}

func (e Engine) fromHistory(asset Asset, asOf time.Time, recorded []Entry) State {
	latest, _ := latestEntry(recorded)
	state := State{
		AssetID:     asset.ID,
		AsOf:        dateOnly(asOf),
		BookValue:   latest.BookValue,
		Accumulated: asset.PurchaseCost.Sub(latest.BookValue),
		Entries:     recorded,
		Source:      SourceHistory,
	}
	if asset.Method == UnitsOfProduction {
		state.Approximate = true
		state.Warnings = []string{UnitsOfProductionWarning}
	}
	return state
}

func (e Engine) analytical(asset Asset, asOf time.Time) (State, error) {
	months := ElapsedMonths(asset.PurchaseDate, asOf)
	accumulated, approximate, err := e.accumulated(asset, months)
	if err != nil {
		return State{}, err
	}

	bookValue := asset.PurchaseCost.Sub(accumulated)
	state := State{
		AssetID:     asset.ID,
		AsOf:        dateOnly(asOf),
		Accumulated: accumulated,
		BookValue:   bookValue,
		Entries: []Entry{{
			AssetID:   asset.ID,
			Date:      dateOnly(asOf),
			Amount:    accumulated,
			BookValue: bookValue,
			Reason:    string(SourceAnalytical),
		}},
		Source:      SourceAnalytical,
		Approximate: approximate,
	}
	if approximate {
		state.Warnings = []string{UnitsOfProductionWarning}
	}
	return state, nil
}

// AccumulatedAt returns cumulative depreciation after `months` elapsed
// months, following the asset's method.
func (e Engine) AccumulatedAt(asset Asset, months int) (decimal.Decimal, error) {
	accumulated, _, err := e.accumulated(asset, months)
	return accumulated, err
}

// PeriodAmount returns the depreciation for elapsed month `month` (1-based)
// given the book value before it: the increment cum(month) - cum(month-1),
// clamped so book value never drops below residual value. The horizon month
// writes off whatever is left above residual, so a ledger that lags the
// formula still closes on residual value. Zero outside (0, horizon].
func (e Engine) PeriodAmount(asset Asset, month int, bookValue decimal.Decimal) (decimal.Decimal, error) {
	horizon := e.HorizonMonths(asset)
	if month <= 0 || month > horizon {
		return decimal.Zero, nil
	}
	headroom := maxDecimal(bookValue.Sub(asset.ResidualValue), decimal.Zero)
	if month == horizon {
		return headroom, nil
	}

	current, _, err := e.accumulated(asset, month)
	if err != nil {
		return decimal.Zero, err
	}
	previous, _, err := e.accumulated(asset, month-1)
	if err != nil {
		return decimal.Zero, err
	}
	return minDecimal(current.Sub(previous), headroom), nil
}

// HorizonMonths is the number of months after purchase at which the asset is
// treated as fully depreciated.
func (e Engine) HorizonMonths(asset Asset) int {
	lifeMonths := asset.LifeMonths()
	if !asset.Method.IsDeclining() {
		return lifeMonths
	}
	return int(decimal.NewFromInt(int64(lifeMonths)).Mul(e.lifeFactor()).Ceil().IntPart())
}

// FullyDepreciatedDate returns the date `method` brings the asset to its
// residual value. For declining methods this is the approximation horizon.
func (e Engine) FullyDepreciatedDate(asset Asset, method Method) (time.Time, error) {
	if !method.Valid() {
		return time.Time{}, &AssetError{AssetID: asset.ID, Err: ErrUnsupportedMethod, Detail: string(method)}
	}
	asset.Method = method
	if err := asset.Validate(); err != nil {
		return time.Time{}, err
	}
	return AddMonths(asset.PurchaseDate, e.HorizonMonths(asset)), nil
}

// =============================================================================
// METHOD DISPATCH
// =============================================================================

func (e Engine) accumulated(asset Asset, months int) (decimal.Decimal, bool, error) {
	if months < 0 {
		months = 0
	}

	var (
		result      decimal.Decimal
		approximate bool
	)
	switch asset.Method {
	case StraightLine:
		result = straightLine(asset, months)
	case DecliningBalance:
		result = decliningBalance(asset, months, decliningMultiplier)
	case DoubleDecliningBalance:
		result = decliningBalance(asset, months, doubleDecliningMultiplier)
	case SumOfYearsDigits:
		result = sumOfYearsDigits(asset, months)
	case UnitsOfProduction:
		result = straightLine(asset, months)
		approximate = true
	default:
		return decimal.Zero, false, &AssetError{AssetID: asset.ID, Err: ErrUnsupportedMethod, Detail: string(asset.Method)}
	}

	result = minDecimal(result, asset.DepreciableAmount())
	result = maxDecimal(result, decimal.Zero)
	return result, approximate, nil
}

func straightLine(asset Asset, months int) decimal.Decimal {
	lifeMonths := asset.LifeMonths()
	if months > lifeMonths {
		months = lifeMonths
	}
	// Multiply before dividing so M == L yields D exactly.
	return roundMoney(asset.DepreciableAmount().
		Mul(decimal.NewFromInt(int64(months))).
		Div(decimal.NewFromInt(int64(lifeMonths))))
}

func decliningBalance(asset Asset, months int, multiplier float64) decimal.Decimal {
	base := 1 - multiplier/float64(asset.LifeYears)
	if base < 0 {
		base = 0
	}
	// The fractional power is done in float64; the result goes back to
	// decimal before touching money.
	factor := decimal.NewFromFloat(math.Pow(base, float64(months)/12))
	remaining := roundMoney(asset.PurchaseCost.Mul(factor))
	return asset.PurchaseCost.Sub(maxDecimal(remaining, asset.ResidualValue))
}

func sumOfYearsDigits(asset Asset, months int) decimal.Decimal {
	life := asset.LifeYears
	fullYears, partialMonths := months/12, months%12
	if fullYears >= life {
		return asset.DepreciableAmount()
	}

	// Work in twelfths of a year so the whole sum stays an integer ratio.
	weight := 0
	for k := 1; k <= fullYears; k++ {
		weight += (life - k + 1) * 12
	}
	weight += (life - fullYears) * partialMonths
	total := life * (life + 1) / 2 * 12

	return roundMoney(asset.DepreciableAmount().
		Mul(decimal.NewFromInt(int64(weight))).
		Div(decimal.NewFromInt(int64(total))))
}

// entriesAsOf returns the prefix of history dated on or before asOf.
func entriesAsOf(history []Entry, asOf time.Time) []Entry {
	cutoff := dateOnly(asOf)
	n := 0
	for n < len(history) && !dateOnly(history[n].Date).After(cutoff) {
		n++
	}
	return history[:n]
}
