package depreciation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECTOR - Forward simulation, never persisted
// =============================================================================

// Projector simulates future monthly entries with the Engine's formulas.
//
// Each month's amount is Engine.PeriodAmount: the increment between
// consecutive cumulative values, for every method. Summing increments of
// cent-rounded cumulative values keeps the projection reconciled to the
// depreciable amount exactly.
type Projector struct {
	Engine Engine
}

func NewProjector(engine Engine) Projector {
	return Projector{Engine: engine}
}

// ProjectFuture returns up to `periods` monthly entries after startDate,
// starting from currentBookValue.
//
// The result is shorter than `periods` when book value reaches residual
// value (the last amount is clamped to land exactly on it) or when the
// horizon is reached before `periods` months. It is empty when the asset is
// already at residual value or past its horizon at startDate.
func (p Projector) ProjectFuture(asset Asset, currentBookValue decimal.Decimal, startDate time.Time, periods int) ([]ProjectedEntry, error) {
	if err := asset.Validate(); err != nil {
		return nil, err
	}
	if periods > MaxProjectionPeriods {
		return nil, &AssetError{AssetID: asset.ID, Err: ErrProjectionTooLong}
	}
	if periods <= 0 || !currentBookValue.GreaterThan(asset.ResidualValue) {
		return []ProjectedEntry{}, nil
	}

	startMonths := ElapsedMonths(asset.PurchaseDate, startDate)
	horizon := p.Engine.HorizonMonths(asset)
	if startMonths >= horizon {
		return []ProjectedEntry{}, nil
	}

	projected := make([]ProjectedEntry, 0, min(periods, horizon-startMonths))
	bookValue := currentBookValue
	for i := 1; i <= periods; i++ {
		amount, err := p.Engine.PeriodAmount(asset, startMonths+i, bookValue)
		if err != nil {
			return nil, err
		}
		// Rounding can leave a month with nothing; later months still count.
		if !amount.IsPositive() {
			continue
		}
		bookValue = bookValue.Sub(amount)

		projected = append(projected, ProjectedEntry{
			Date:      AddMonths(startDate, i),
			Amount:    amount,
			BookValue: bookValue,
		})
		if bookValue.Equal(asset.ResidualValue) {
			break
		}
	}
	return projected, nil
}
