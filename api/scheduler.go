/*
scheduler.go - Automated month-end posting scheduler

PURPOSE:
  Periodically posts the due depreciation of every ACTIVE asset up to
  today, and records each run for audit and the admin API.

DESIGN:
  - Runs a background goroutine with configurable interval
  - One run at a time: a manual trigger waits for a scheduled run
  - Every posting carries an idempotency key, so overlapping or repeated
    runs never double-post a month
  - A run that fails to list assets is recorded as failed; per-asset
    failures are counted and the run still completes

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewPostingScheduler(posting, runLog, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerPostingRun endpoint (manual run)
  - depreciation/posting.go: PostingRun
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/depreciation-engine/depreciation"
)

// PostingScheduler runs the posting job on an interval.
type PostingScheduler struct {
	Posting  *depreciation.PostingRun
	Runs     depreciation.RunLog
	Interval time.Duration
	Enabled  bool
	Logger   *slog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewPostingScheduler creates a scheduler. runs may be nil, in which case
// run history is not kept.
func NewPostingScheduler(posting *depreciation.PostingRun, runs depreciation.RunLog, logger *slog.Logger) *PostingScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostingScheduler{
		Posting:  posting,
		Runs:     runs,
		Interval: 1 * time.Hour,
		Enabled:  true,
		Logger:   logger.With("component", "posting_scheduler"),
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

// Start begins the scheduler. The first run happens immediately.
func (ps *PostingScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.Interval)
	ps.stop = make(chan struct{})
	ps.wg.Add(1)

	go ps.run(ps.ticker, ps.stop)

	ps.Logger.Info("scheduler started", "interval", ps.Interval.String())
}

// Stop stops the scheduler and waits for an in-flight run.
func (ps *PostingScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker == nil {
		return
	}
	ps.ticker.Stop()
	close(ps.stop)
	ps.wg.Wait()
	ps.ticker = nil
	ps.Logger.Info("scheduler stopped")
}

func (ps *PostingScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ps.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ps.tick(ctx)
	for {
		select {
		case <-ticker.C:
			ps.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (ps *PostingScheduler) tick(ctx context.Context) {
	if _, _, err := ps.RunNow(ctx, ps.Now()); err != nil && ctx.Err() == nil {
		ps.Logger.Error("scheduled posting run failed", "error", err)
	}
}

// RunNow performs one posting run up to cutoff and records it.
func (ps *PostingScheduler) RunNow(ctx context.Context, cutoff time.Time) (depreciation.RunRecord, *depreciation.PostingSummary, error) {
	ps.runMu.Lock()
	defer ps.runMu.Unlock()

	run := depreciation.RunRecord{
		ID:        ps.NewID(),
		Cutoff:    cutoff,
		Status:    depreciation.RunRunning,
		StartedAt: ps.Now(),
	}
	ps.save(ctx, run)

	log := ps.Logger.With("run_id", run.ID, "cutoff", cutoff.Format(time.DateOnly))
	log.Info("posting run started")

	summary, err := ps.Posting.Run(ctx, cutoff)
	if summary != nil {
		run = summary.Record(run)
	}
	completed := ps.Now()
	run.CompletedAt = &completed

	if err != nil {
		run.Status = depreciation.RunFailed
		run.Error = err.Error()
		ps.save(context.WithoutCancel(ctx), run)
		log.Error("posting run failed", "error", err)
		return run, summary, err
	}

	run.Status = depreciation.RunCompleted
	ps.save(ctx, run)

	for _, f := range summary.Failures {
		log.Warn("asset posting failed", "asset_id", f.AssetID, "error", f.Err)
	}
	log.Info("posting run completed",
		"assets_scanned", run.AssetsScanned,
		"assets_posted", run.AssetsPosted,
		"entries_posted", run.EntriesPosted,
		"failures", run.Failures)
	return run, summary, nil
}

func (ps *PostingScheduler) save(ctx context.Context, run depreciation.RunRecord) {
	if ps.Runs == nil {
		return
	}
	if err := ps.Runs.SaveRun(ctx, run); err != nil {
		ps.Logger.Error("failed to save posting run", "run_id", run.ID, "error", err)
	}
}
