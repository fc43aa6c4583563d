/*
schedule.go - Historical ledger + projected remainder

PURPOSE:
  Assembles everything a presentation or export layer needs for one asset:
  the authoritative past (ledger entries) and the advisory future
  (projected entries for the remaining life).

PAST vs FUTURE:
  Entries are binding; ProjectedEntries are estimates that must be
  recomputed whenever the ledger changes. Entries stop at AsOf, so the two
  never cover the same month. Nothing here writes.

PROJECTION START:
  - With history: from the latest entry date and its book value
  - Without history: from "now" and the analytical book value

SEE ALSO:
  - engine.go: ComputeAsOf
  - projector.go: ProjectFuture
*/
package depreciation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Schedule is the full depreciation picture for one asset.
type Schedule struct {
	AssetID                 AssetID
	Method                  Method
	Status                  Status
	AsOf                    time.Time
	OriginalCost            decimal.Decimal
	ResidualValue           decimal.Decimal
	DepreciableAmount       decimal.Decimal
	AccumulatedDepreciation decimal.Decimal
	CurrentBookValue        decimal.Decimal
	IsFullyDepreciated      bool
	RemainingLifeMonths     int
	FullyDepreciatedDate    time.Time
	Source                  Source

	Entries          []Entry
	ProjectedEntries []ProjectedEntry

	Approximate bool
	Warnings    []string
}

// ScheduleBuilder reads the ledger and builds schedules.
type ScheduleBuilder struct {
	Store     Store
	Engine    Engine
	Projector Projector

	// Now is overridable for tests.
	Now func() time.Time
}

func NewScheduleBuilder(store Store, engine Engine) *ScheduleBuilder {
	return &ScheduleBuilder{
		Store:     store,
		Engine:    engine,
		Projector: NewProjector(engine),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateSchedule builds the schedule for assetID as of now.
func (b *ScheduleBuilder) GenerateSchedule(ctx context.Context, assetID AssetID) (*Schedule, error) {
	now := time.Now().UTC()
	if b.Now != nil {
		now = b.Now()
	}
	return b.GenerateScheduleAsOf(ctx, assetID, now)
}

// GenerateScheduleAsOf builds the schedule as seen at asOf.
func (b *ScheduleBuilder) GenerateScheduleAsOf(ctx context.Context, assetID AssetID, asOf time.Time) (*Schedule, error) {
	asset, err := b.Store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &AssetError{AssetID: assetID, Err: ErrAssetNotFound}
	}

	entries, err := b.Store.Entries(ctx, assetID)
	if err != nil {
		return nil, err
	}

	return b.Build(*asset, entries, asOf)
}

// Build assembles a schedule from an already loaded asset and ledger.
func (b *ScheduleBuilder) Build(asset Asset, entries []Entry, asOf time.Time) (*Schedule, error) {
	state, err := b.Engine.ComputeAsOf(asset, asOf, entries)
	if err != nil {
		return nil, err
	}

	fullyDepreciatedDate, err := b.Engine.FullyDepreciatedDate(asset, asset.Method)
	if err != nil {
		return nil, err
	}

	start := state.AsOf
	if state.Source == SourceHistory {
		latest, _ := latestEntry(state.Entries)
		start = dateOnly(latest.Date)
	}

	remaining := b.Engine.HorizonMonths(asset) - ElapsedMonths(asset.PurchaseDate, start)
	if remaining < 0 {
		remaining = 0
	}
	isFullyDepreciated := !state.BookValue.GreaterThan(asset.ResidualValue)
	if isFullyDepreciated {
		remaining = 0
	}

	projected, err := b.Projector.ProjectFuture(asset, state.BookValue, start, min(remaining, MaxProjectionPeriods))
	if err != nil {
		return nil, err
	}

	// Rows dated after asOf would overlap the projection.
	recorded := entriesAsOf(entries, state.AsOf)
	if recorded == nil {
		recorded = []Entry{}
	}
	return &Schedule{
		AssetID:                 asset.ID,
		Method:                  asset.Method,
		Status:                  asset.Status,
		AsOf:                    state.AsOf,
		OriginalCost:            asset.PurchaseCost,
		ResidualValue:           asset.ResidualValue,
		DepreciableAmount:       asset.DepreciableAmount(),
		AccumulatedDepreciation: state.Accumulated,
		CurrentBookValue:        state.BookValue,
		IsFullyDepreciated:      isFullyDepreciated,
		RemainingLifeMonths:     remaining,
		FullyDepreciatedDate:    fullyDepreciatedDate,
		Source:                  state.Source,
		Entries:                 recorded,
		ProjectedEntries:        projected,
		Approximate:             state.Approximate,
		Warnings:                state.Warnings,
	}, nil
}
