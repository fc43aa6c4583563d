/*
Package sqlite provides a SQLite-backed implementation of the depreciation
storage interfaces.

PURPOSE:
  Implements depreciation.TxStore, AssetLister and RunLog using SQLite.
  store/postgres implements the same interfaces for PostgreSQL; the
  schema and queries differ only in dialect.

INTERFACES IMPLEMENTED:
  depreciation.Store:       Asset registry + entry ledger
  depreciation.TxStore:     Atomic read-append-status sequences
  depreciation.AssetLister: Posting run enumeration
  depreciation.RunLog:      Posting run history

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on depreciation_entries
  - Corrections are new entries
  - Reset() is the only exception (tests and demo data)

KEY TABLES:
  assets:               Registry copy (cost, residual, life, method, status)
  depreciation_entries: Immutable ledger, one row per recording
  posting_runs:         Scheduler history

INDEXES:
  - idx_entries_asset_date: Ledger reads (hot path), and one entry per
    asset per day
  - idx_entries_asset_idempotency: Replay protection, one key per asset

STORAGE FORMATS:
  Money is TEXT holding the decimal string, never REAL. Entry dates are
  YYYY-MM-DD so lexical order is chronological; timestamps are RFC3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In-memory databases are pinned to a
  single connection because every new connection would see an empty
  database.

USAGE:
  store, err := sqlite.New("./data/depreciation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  recorder := depreciation.NewRecorder(store)

SEE ALSO:
  - depreciation/store.go: Interface definitions
  - depreciation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/depreciation-engine/depreciation"
)

// Store implements the depreciation storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Assets (registry copy)
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		purchase_date TEXT NOT NULL,
		purchase_cost TEXT NOT NULL,
		residual_value TEXT NOT NULL,
		life_years INTEGER NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assets_status
		ON assets(status);

	-- Depreciation entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS depreciation_entries (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		entry_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		book_value TEXT NOT NULL,
		idempotency_key TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	-- Ledger reads, and at most one entry per asset per day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_asset_date
		ON depreciation_entries(asset_id, entry_date);

	-- Replay protection; NULL keys never collide
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_asset_idempotency
		ON depreciation_entries(asset_id, idempotency_key);

	-- Posting runs (scheduler history)
	CREATE TABLE IF NOT EXISTS posting_runs (
		id TEXT PRIMARY KEY,
		cutoff TEXT NOT NULL,
		status TEXT NOT NULL,
		assets_scanned INTEGER NOT NULL DEFAULT 0,
		assets_posted INTEGER NOT NULL DEFAULT 0,
		entries_posted INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_posting_runs_started
		ON posting_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ASSET REGISTRY (depreciation.AssetRegistry interface)
// =============================================================================

// SaveAsset inserts or updates an asset. The ledger is left untouched.
func (s *Store) SaveAsset(ctx context.Context, asset depreciation.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.Status == "" {
		asset.Status = depreciation.StatusActive
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO assets (id, name, purchase_date, purchase_cost, residual_value,
			life_years, method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			purchase_date = excluded.purchase_date,
			purchase_cost = excluded.purchase_cost,
			residual_value = excluded.residual_value,
			life_years = excluded.life_years,
			method = excluded.method,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		asset.ID,
		asset.Name,
		asset.PurchaseDate.Format(time.DateOnly),
		asset.PurchaseCost.String(),
		asset.ResidualValue.String(),
		asset.LifeYears,
		asset.Method,
		asset.Status,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

// GetAsset retrieves an asset by ID.
func (s *Store) GetAsset(ctx context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getAsset(ctx, s.db, id)
}

func getAsset(ctx context.Context, q querier, id depreciation.AssetID) (*depreciation.Asset, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, purchase_date, purchase_cost, residual_value, life_years, method, status
		FROM assets WHERE id = ?
	`, id)

	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	return asset, err
}

// SetAssetStatus changes the lifecycle status of an asset.
func (s *Store) SetAssetStatus(ctx context.Context, id depreciation.AssetID, status depreciation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setAssetStatus(ctx, s.db, id, status)
}

func setAssetStatus(ctx context.Context, q querier, id depreciation.AssetID, status depreciation.Status) error {
	result, err := q.ExecContext(ctx,
		"UPDATE assets SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	return nil
}

// ListAssets returns all assets ordered by ID.
func (s *Store) ListAssets(ctx context.Context) ([]depreciation.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, purchase_date, purchase_cost, residual_value, life_years, method, status
		FROM assets ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []depreciation.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*depreciation.Asset, error) {
	var (
		asset         depreciation.Asset
		purchaseDate  string
		purchaseCost  string
		residualValue string
		status        string
	)

	err := row.Scan(&asset.ID, &asset.Name, &purchaseDate, &purchaseCost, &residualValue,
		&asset.LifeYears, &asset.Method, &status)
	if err != nil {
		return nil, err
	}

	if asset.PurchaseDate, err = time.Parse(time.DateOnly, purchaseDate); err != nil {
		return nil, fmt.Errorf("asset %s: bad purchase_date: %w", asset.ID, err)
	}
	if asset.PurchaseCost, err = decimal.NewFromString(purchaseCost); err != nil {
		return nil, fmt.Errorf("asset %s: bad purchase_cost: %w", asset.ID, err)
	}
	if asset.ResidualValue, err = decimal.NewFromString(residualValue); err != nil {
		return nil, fmt.Errorf("asset %s: bad residual_value: %w", asset.ID, err)
	}
	parsed, ok := depreciation.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("asset %s: unknown status %q", asset.ID, status)
	}
	asset.Status = parsed
	return &asset, nil
}

// =============================================================================
// LEDGER (depreciation.Ledger interface)
// =============================================================================

// AppendEntry adds an entry to the ledger.
func (s *Store) AppendEntry(ctx context.Context, entry depreciation.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, q querier, entry depreciation.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO depreciation_entries
		(id, asset_id, entry_date, amount, book_value, idempotency_key, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.AssetID,
		entry.Date.Format(time.DateOnly),
		entry.Amount.String(),
		entry.BookValue.String(),
		nullString(entry.IdempotencyKey),
		nullString(entry.Reason),
		createdAt.Format(time.RFC3339Nano),
	)

	if err != nil {
		switch {
		case isUniqueConstraintError(err, "idempotency_key"):
			return depreciation.ErrDuplicateIdempotencyKey
		case isUniqueConstraintError(err, "entry_date"):
			return &depreciation.OrderingError{
				AssetID:   entry.AssetID,
				Latest:    entry.Date,
				Attempted: entry.Date,
				Reason:    "an entry already exists on this date",
			}
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}

	return nil
}

// Entries returns all entries for an asset, oldest first.
func (s *Store) Entries(ctx context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadEntries(ctx, s.db, assetID)
}

func loadEntries(ctx context.Context, q querier, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	query := `
		SELECT id, asset_id, entry_date, amount, book_value, idempotency_key, reason, created_at
		FROM depreciation_entries
		WHERE asset_id = ?
		ORDER BY entry_date ASC, created_at ASC
	`

	rows, err := q.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []depreciation.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (depreciation.Entry, error) {
	var (
		entry          depreciation.Entry
		entryDate      string
		amount         string
		bookValue      string
		idempotencyKey sql.NullString
		reason         sql.NullString
		createdAt      string
	)

	err := rows.Scan(&entry.ID, &entry.AssetID, &entryDate, &amount, &bookValue,
		&idempotencyKey, &reason, &createdAt)
	if err != nil {
		return entry, fmt.Errorf("failed to scan entry: %w", err)
	}

	if entry.Date, err = time.Parse(time.DateOnly, entryDate); err != nil {
		return entry, fmt.Errorf("entry %s: bad entry_date: %w", entry.ID, err)
	}
	if entry.Amount, err = decimal.NewFromString(amount); err != nil {
		return entry, fmt.Errorf("entry %s: bad amount: %w", entry.ID, err)
	}
	if entry.BookValue, err = decimal.NewFromString(bookValue); err != nil {
		return entry, fmt.Errorf("entry %s: bad book_value: %w", entry.ID, err)
	}
	entry.IdempotencyKey = idempotencyKey.String
	entry.Reason = reason.String
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return entry, nil
}

// =============================================================================
// TRANSACTIONAL STORE (depreciation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store depreciation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. The parent lock is
// already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAsset(ctx context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	return getAsset(ctx, ts.tx, id)
}

func (ts *txStore) SetAssetStatus(ctx context.Context, id depreciation.AssetID, status depreciation.Status) error {
	return setAssetStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) Entries(ctx context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	return loadEntries(ctx, ts.tx, assetID)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry depreciation.Entry) error {
	return appendEntry(ctx, ts.tx, entry)
}

// =============================================================================
// POSTING RUNS (depreciation.RunLog interface)
// =============================================================================

// SaveRun inserts or updates a posting run.
func (s *Store) SaveRun(ctx context.Context, r depreciation.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO posting_runs (id, cutoff, status, assets_scanned, assets_posted,
			entries_posted, failures, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assets_scanned = excluded.assets_scanned,
			assets_posted = excluded.assets_posted,
			entries_posted = excluded.entries_posted,
			failures = excluded.failures,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		v := r.CompletedAt.Format(time.RFC3339)
		completedAt = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Cutoff.Format(time.DateOnly), r.Status,
		r.AssetsScanned, r.AssetsPosted, r.EntriesPosted, r.Failures,
		nullString(r.Error), r.StartedAt.Format(time.RFC3339), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save posting run: %w", err)
	}
	return nil
}

// ListRuns returns posting runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]depreciation.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, cutoff, status, assets_scanned, assets_posted, entries_posted,
			failures, error, started_at, completed_at
		FROM posting_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []depreciation.RunRecord{}
	for rows.Next() {
		var r depreciation.RunRecord
		var cutoff, startedAt string
		var runErr, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &cutoff, &r.Status, &r.AssetsScanned, &r.AssetsPosted, &r.EntriesPosted,
			&r.Failures, &runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}

		r.Cutoff, _ = time.Parse(time.DateOnly, cutoff)
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.Error = runErr.String
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"depreciation_entries", "posting_runs", "assets"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError reports a UNIQUE violation naming column.
func isUniqueConstraintError(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}
