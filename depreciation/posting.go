package depreciation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POSTING RUN - Month-end recording of scheduled depreciation
// =============================================================================

// PostingRun records the formula amount for every elapsed month that has not
// been posted yet, for every ACTIVE asset, through the Recorder. Postings are
// dated on the monthly anniversary of the purchase date and carry the
// idempotency key "posting:<asset>:<YYYY-MM>", so reruns are harmless.
type PostingRun struct {
	Store    Store
	Recorder *Recorder
	Engine   Engine
}

func NewPostingRun(store Store, recorder *Recorder, engine Engine) *PostingRun {
	return &PostingRun{Store: store, Recorder: recorder, Engine: engine}
}

// PostingSummary reports one run.
type PostingSummary struct {
	Cutoff        time.Time
	AssetsScanned int
	AssetsPosted  int
	Entries       []Entry
	Adjusted      int // entries clamped at residual value
	Completed     []AssetID
	Failures      []PostingFailure
}

// PostingFailure records an asset whose posting stopped on an error. Other
// assets are still processed.
type PostingFailure struct {
	AssetID AssetID
	Err     error
}

// Run posts every due month up to and including cutoff.
func (p *PostingRun) Run(ctx context.Context, cutoff time.Time) (*PostingSummary, error) {
	lister, ok := p.Store.(AssetLister)
	if !ok {
		return nil, ErrStoreRequired
	}
	assets, err := lister.ListAssets(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PostingSummary{Cutoff: dateOnly(cutoff)}
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if asset.Status != StatusActive {
			continue
		}
		summary.AssetsScanned++

		results, err := p.PostAsset(ctx, asset, cutoff)
		if len(results) > 0 {
			summary.AssetsPosted++
		}
		for _, res := range results {
			summary.Entries = append(summary.Entries, res.Entry)
			if res.Adjusted {
				summary.Adjusted++
			}
			if res.StatusChanged {
				summary.Completed = append(summary.Completed, asset.ID)
			}
		}
		if err != nil {
			summary.Failures = append(summary.Failures, PostingFailure{AssetID: asset.ID, Err: err})
		}
	}
	return summary, nil
}

// Record fills the counters of run from the summary.
func (s *PostingSummary) Record(run RunRecord) RunRecord {
	run.Cutoff = s.Cutoff
	run.AssetsScanned = s.AssetsScanned
	run.AssetsPosted = s.AssetsPosted
	run.EntriesPosted = len(s.Entries)
	run.Failures = len(s.Failures)
	return run
}

// PostAsset posts the due months for a single asset.
func (p *PostingRun) PostAsset(ctx context.Context, asset Asset, cutoff time.Time) ([]*RecordResult, error) {
	entries, err := p.Store.Entries(ctx, asset.ID)
	if err != nil {
		return nil, err
	}

	next := 1
	bookValue := asset.PurchaseCost
	if latest, ok := latestEntry(entries); ok {
		next = ElapsedMonths(asset.PurchaseDate, latest.Date) + 1
		bookValue = latest.BookValue
	}
	last := min(ElapsedMonths(asset.PurchaseDate, cutoff), p.Engine.HorizonMonths(asset))

	var results []*RecordResult
	for month := next; month <= last; month++ {
		amount, err := p.Engine.PeriodAmount(asset, month, bookValue)
		if err != nil {
			return results, err
		}
		if !amount.IsPositive() {
			continue
		}

		date := AddMonths(asset.PurchaseDate, month)
		res, err := p.Recorder.RecordDepreciationWithOptions(ctx, asset.ID, date, amount, RecordOptions{
			IdempotencyKey: PostingKey(asset.ID, date),
			Reason:         "scheduled posting",
		})
		switch {
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			continue
		case errors.Is(err, ErrAssetFullyDepreciated):
			return results, nil
		case err != nil:
			return results, err
		}

		results = append(results, res)
		bookValue = res.Entry.BookValue
		if res.StatusChanged || bookValue.LessThanOrEqual(asset.ResidualValue) {
			break
		}
	}
	return results, nil
}

// PostingKey is the idempotency key of a scheduled posting.
func PostingKey(assetID AssetID, date time.Time) string {
	return fmt.Sprintf("posting:%s:%s", assetID, date.Format("2006-01"))
}

// TotalAmount sums entry amounts.
func TotalAmount(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
