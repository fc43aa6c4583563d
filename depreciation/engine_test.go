package depreciation_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/depreciation-engine/depreciation"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func testAsset(method depreciation.Method, cost, residual string, lifeYears int) depreciation.Asset {
	return depreciation.Asset{
		ID:            "asset-1",
		Name:          "Test asset",
		PurchaseDate:  date(2024, time.January, 15),
		PurchaseCost:  dec(cost),
		ResidualValue: dec(residual),
		LifeYears:     lifeYears,
		Method:        method,
		Status:        depreciation.StatusActive,
	}
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(expected).Equal(actual) {
		assert.Fail(t, fmt.Sprintf("expected %s, got %s", expected, actual), msgAndArgs...)
	}
}

// =============================================================================
// ANALYTICAL BRANCH
// =============================================================================

func TestComputeAsOf_StraightLine_HalfLife(t *testing.T) {
	// GIVEN: cost 12000, residual 0, 4 year life, no history
	// WHEN: computing 24 months after purchase
	// THEN: half of the cost is depreciated

	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)

	state, err := engine.ComputeAsOf(asset, date(2026, time.January, 15), nil)
	require.NoError(t, err)

	assertMoney(t, "6000", state.Accumulated)
	assertMoney(t, "6000", state.BookValue)
	assert.Equal(t, depreciation.SourceAnalytical, state.Source)
	require.Len(t, state.Entries, 1, "analytical branch returns one synthetic entry")
	assert.Equal(t, date(2026, time.January, 15), state.Entries[0].Date)
	assertMoney(t, "6000", state.Entries[0].BookValue)
	assert.False(t, state.Approximate)
}

func TestComputeAsOf_StraightLine_EndOfLifeLandsOnResidual(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "10000", "1000", 3)

	atLife, err := engine.ComputeAsOf(asset, date(2027, time.January, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "1000", atLife.BookValue)
	assertMoney(t, "9000", atLife.Accumulated)

	afterLife, err := engine.ComputeAsOf(asset, date(2035, time.June, 1), nil)
	require.NoError(t, err)
	assertMoney(t, "1000", afterLife.BookValue, "book value stays on the floor after the life ends")
}

func TestComputeAsOf_StraightLine_PartialMonthDoesNotCount(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "1200", "0", 1)

	state, err := engine.ComputeAsOf(asset, date(2024, time.March, 14), nil)
	require.NoError(t, err)
	assertMoney(t, "100", state.Accumulated, "Feb 15 counted, Mar 15 not reached yet")

	state, err = engine.ComputeAsOf(asset, date(2024, time.March, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "200", state.Accumulated)
}

func TestComputeAsOf_BeforePurchase_NoDepreciation(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.DoubleDecliningBalance, "5000", "500", 5)

	state, err := engine.ComputeAsOf(asset, date(2023, time.June, 1), nil)
	require.NoError(t, err)
	assertMoney(t, "0", state.Accumulated)
	assertMoney(t, "5000", state.BookValue)
}

func TestComputeAsOf_SumOfYearsDigits_YearlyFactors(t *testing.T) {
	// GIVEN: life 3, depreciable amount 6000 (sum of years = 6)
	// THEN: year 1 takes 3/6, year 2 takes 2/6, year 3 takes 1/6

	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.SumOfYearsDigits, "7000", "1000", 3)

	tests := []struct {
		asOf        time.Time
		accumulated string
	}{
		{date(2025, time.January, 15), "3000"},
		{date(2025, time.July, 15), "4000"}, // half of year 2's 2000
		{date(2026, time.January, 15), "5000"},
		{date(2027, time.January, 15), "6000"},
		{date(2030, time.January, 15), "6000"},
	}
	for _, tt := range tests {
		state, err := engine.ComputeAsOf(asset, tt.asOf, nil)
		require.NoError(t, err)
		assertMoney(t, tt.accumulated, state.Accumulated, "as of %s", tt.asOf.Format(time.DateOnly))
	}
}

func TestComputeAsOf_DoubleDecliningBalance_FirstYears(t *testing.T) {
	// GIVEN: life 5 -> rate 0.4, book value keeps 60% each year
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.DoubleDecliningBalance, "10000", "1000", 5)

	year1, err := engine.ComputeAsOf(asset, date(2025, time.January, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "6000", year1.BookValue)

	year2, err := engine.ComputeAsOf(asset, date(2026, time.January, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "3600", year2.BookValue)

	late, err := engine.ComputeAsOf(asset, date(2040, time.January, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "1000", late.BookValue, "the residual floor caps the decline")
}

func TestComputeAsOf_DecliningBalance_Rate(t *testing.T) {
	// GIVEN: life 5 -> rate 1.5/5 = 0.3
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.DecliningBalance, "10000", "0", 5)

	state, err := engine.ComputeAsOf(asset, date(2025, time.January, 15), nil)
	require.NoError(t, err)
	assertMoney(t, "7000", state.BookValue)
	assertMoney(t, "3000", state.Accumulated)
}

func TestComputeAsOf_DecliningMethods_MonotonicAboveResidual(t *testing.T) {
	engine := depreciation.NewEngine()
	for _, method := range []depreciation.Method{depreciation.DecliningBalance, depreciation.DoubleDecliningBalance} {
		t.Run(string(method), func(t *testing.T) {
			asset := testAsset(method, "25000", "2500", 4)
			previous := asset.PurchaseCost
			for m := 0; m <= 120; m++ {
				state, err := engine.ComputeAsOf(asset, depreciation.AddMonths(asset.PurchaseDate, m), nil)
				require.NoError(t, err)
				assert.True(t, state.BookValue.LessThanOrEqual(previous), "month %d: %s > %s", m, state.BookValue, previous)
				assert.True(t, state.BookValue.GreaterThanOrEqual(asset.ResidualValue), "month %d below residual", m)
				previous = state.BookValue
			}
		})
	}
}

func TestComputeAsOf_AllMethods_NeverBelowResidual(t *testing.T) {
	engine := depreciation.NewEngine()
	for _, method := range depreciation.Methods {
		asset := testAsset(method, "9999.99", "123.45", 3)
		for m := 0; m <= 60; m += 7 {
			state, err := engine.ComputeAsOf(asset, depreciation.AddMonths(asset.PurchaseDate, m), nil)
			require.NoError(t, err)
			assert.True(t, state.BookValue.GreaterThanOrEqual(asset.ResidualValue), "%s month %d", method, m)
			assert.True(t, state.Accumulated.LessThanOrEqual(asset.DepreciableAmount()), "%s month %d", method, m)
			assert.True(t, state.Accumulated.Add(state.BookValue).Equal(asset.PurchaseCost), "%s month %d", method, m)
		}
	}
}

func TestComputeAsOf_UnitsOfProduction_FlaggedApproximation(t *testing.T) {
	engine := depreciation.NewEngine()
	uop := testAsset(depreciation.UnitsOfProduction, "12000", "0", 4)
	sl := testAsset(depreciation.StraightLine, "12000", "0", 4)
	asOf := date(2025, time.July, 20)

	approx, err := engine.ComputeAsOf(uop, asOf, nil)
	require.NoError(t, err)
	exact, err := engine.ComputeAsOf(sl, asOf, nil)
	require.NoError(t, err)

	assert.True(t, approx.Approximate)
	assert.Contains(t, approx.Warnings, depreciation.UnitsOfProductionWarning)
	assert.True(t, approx.Accumulated.Equal(exact.Accumulated), "falls back to straight line")
}

func TestComputeAsOf_UnsupportedMethod(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset("ANNUITY", "1000", "0", 2)

	_, err := engine.ComputeAsOf(asset, date(2025, time.January, 1), nil)
	assert.ErrorIs(t, err, depreciation.ErrUnsupportedMethod)
}

func TestComputeAsOf_InvalidAsset(t *testing.T) {
	engine := depreciation.NewEngine()

	residualAboveCost := testAsset(depreciation.StraightLine, "1000", "1500", 2)
	_, err := engine.ComputeAsOf(residualAboveCost, date(2025, time.January, 1), nil)
	assert.ErrorIs(t, err, depreciation.ErrInvalidAsset)

	noLife := testAsset(depreciation.StraightLine, "1000", "0", 0)
	_, err = engine.ComputeAsOf(noLife, date(2025, time.January, 1), nil)
	assert.ErrorIs(t, err, depreciation.ErrInvalidAsset)

	var assetErr *depreciation.AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, depreciation.AssetID("asset-1"), assetErr.AssetID)
}

// =============================================================================
// HISTORY BRANCH
// =============================================================================

func TestComputeAsOf_History_LatestBookValueIsAuthoritative(t *testing.T) {
	// GIVEN: a ledger that deviates from the straight-line curve
	// WHEN: computing as of a later date
	// THEN: the ledger wins; nothing is recomputed

	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	history := []depreciation.Entry{
		{ID: "e1", AssetID: asset.ID, Date: date(2024, time.June, 30), Amount: dec("700"), BookValue: dec("11300")},
		{ID: "e2", AssetID: asset.ID, Date: date(2024, time.December, 31), Amount: dec("1800"), BookValue: dec("9500")},
	}

	state, err := engine.ComputeAsOf(asset, date(2026, time.January, 15), history)
	require.NoError(t, err)

	assert.Equal(t, depreciation.SourceHistory, state.Source)
	assertMoney(t, "9500", state.BookValue)
	assertMoney(t, "2500", state.Accumulated)
	assert.Equal(t, history, state.Entries, "history is returned unchanged")
}

func TestComputeAsOf_History_EntriesAfterAsOfIgnored(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "12000", "0", 4)
	history := []depreciation.Entry{
		{ID: "e1", AssetID: asset.ID, Date: date(2024, time.March, 31), Amount: dec("500"), BookValue: dec("11500")},
		{ID: "e2", AssetID: asset.ID, Date: date(2024, time.September, 30), Amount: dec("1500"), BookValue: dec("10000")},
	}

	state, err := engine.ComputeAsOf(asset, date(2024, time.June, 1), history)
	require.NoError(t, err)
	assert.Equal(t, depreciation.SourceHistory, state.Source)
	assertMoney(t, "11500", state.BookValue)
	assert.Len(t, state.Entries, 1)

	state, err = engine.ComputeAsOf(asset, date(2024, time.February, 20), history)
	require.NoError(t, err)
	assert.Equal(t, depreciation.SourceAnalytical, state.Source, "no entry on or before asOf")
	assertMoney(t, "250", state.Accumulated)
}

func TestComputeAsOf_Idempotent(t *testing.T) {
	engine := depreciation.NewEngine()
	for _, method := range depreciation.Methods {
		asset := testAsset(method, "48123.17", "2000", 6)
		asOf := date(2027, time.August, 3)

		first, err := engine.ComputeAsOf(asset, asOf, nil)
		require.NoError(t, err)
		second, err := engine.ComputeAsOf(asset, asOf, nil)
		require.NoError(t, err)
		assert.Equal(t, first, second, string(method))
	}
}

// =============================================================================
// FULLY DEPRECIATED DATE
// =============================================================================

func TestFullyDepreciatedDate(t *testing.T) {
	engine := depreciation.NewEngine()
	asset := testAsset(depreciation.StraightLine, "10000", "0", 5)

	tests := []struct {
		method depreciation.Method
		want   time.Time
	}{
		{depreciation.StraightLine, date(2029, time.January, 15)},
		{depreciation.SumOfYearsDigits, date(2029, time.January, 15)},
		{depreciation.UnitsOfProduction, date(2029, time.January, 15)},
		{depreciation.DecliningBalance, date(2030, time.January, 15)}, // 60 * 1.2 = 72 months
		{depreciation.DoubleDecliningBalance, date(2030, time.January, 15)},
	}
	for _, tt := range tests {
		got, err := engine.FullyDepreciatedDate(asset, tt.method)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, string(tt.method))
	}
}

func TestFullyDepreciatedDate_OverriddenFactor(t *testing.T) {
	engine := depreciation.Engine{DecliningLifeFactor: dec("1.5")}
	asset := testAsset(depreciation.DoubleDecliningBalance, "10000", "0", 5)

	got, err := engine.FullyDepreciatedDate(asset, depreciation.DoubleDecliningBalance)
	require.NoError(t, err)
	assert.Equal(t, depreciation.AddMonths(asset.PurchaseDate, 90), got)
}

func TestFullyDepreciatedDate_UnsupportedMethod(t *testing.T) {
	engine := depreciation.NewEngine()
	_, err := engine.FullyDepreciatedDate(testAsset(depreciation.StraightLine, "1", "0", 1), "MAGIC")
	assert.ErrorIs(t, err, depreciation.ErrUnsupportedMethod)
}

func TestZeroEngine_UsesDefaultFactor(t *testing.T) {
	asset := testAsset(depreciation.DecliningBalance, "10000", "0", 5)
	assert.Equal(t, depreciation.NewEngine().HorizonMonths(asset), depreciation.Engine{}.HorizonMonths(asset))
	assert.Equal(t, 72, depreciation.Engine{}.HorizonMonths(asset))
}
