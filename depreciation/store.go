/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the narrow boundary between the depreciation engine and whatever
  owns assets and ledger rows. The engine never opens a database; it is
  handed one of these.

KEY INTERFACES:
  AssetRegistry: Asset lookup and status transitions
  Ledger:        Append-only entry log, read oldest first
  Store:         Both of the above
  TxStore:       Store with atomic multi-write support
  RunLog:        History of posting runs (optional)

APPEND-ONLY CONTRACT:
  - AppendEntry(): The only write to the ledger
  - NO update or delete methods exist
  - Corrections are new entries, never edits

IMPLEMENTATIONS:
  - depreciation/store/memory.go: In-memory, for tests and the CLI
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - recorder.go: Uses TxStore.WithTx when available
*/
package depreciation

import (
	"context"
	"time"
)

// =============================================================================
// ASSET REGISTRY - Owned by the asset registry collaborator
// =============================================================================

type AssetRegistry interface {
	// GetAsset returns ErrAssetNotFound (possibly wrapped) for unknown IDs.
	GetAsset(ctx context.Context, id AssetID) (*Asset, error)

	// SetAssetStatus changes the lifecycle status of an asset.
	SetAssetStatus(ctx context.Context, id AssetID, status Status) error
}

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

type Ledger interface {
	// Entries returns all entries for an asset ordered by date, oldest first.
	Entries(ctx context.Context, assetID AssetID) ([]Entry, error)

	// AppendEntry persists an entry. Returns ErrDuplicateIdempotencyKey when
	// the entry's key already exists.
	AppendEntry(ctx context.Context, entry Entry) error
}

// Store is the full collaborator surface the engine depends on.
type Store interface {
	AssetRegistry
	Ledger
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write made through the passed Store is
	// rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AssetLister is implemented by stores that can enumerate assets. Needed by
// the posting run.
type AssetLister interface {
	ListAssets(ctx context.Context) ([]Asset, error)
}

// =============================================================================
// POSTING RUN LOG
// =============================================================================

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunRecord is the persisted outcome of one posting run.
type RunRecord struct {
	ID            string
	Cutoff        time.Time
	Status        string
	AssetsScanned int
	AssetsPosted  int
	EntriesPosted int
	Failures      int
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// RunLog is implemented by stores that keep posting run history.
type RunLog interface {
	// SaveRun inserts or updates the run with the same ID.
	SaveRun(ctx context.Context, run RunRecord) error

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
