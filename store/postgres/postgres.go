/*
Package postgres provides a PostgreSQL-backed implementation of the
depreciation storage interfaces, using a pgx connection pool.

PURPOSE:
  Same contract as store/sqlite, for deployments that share one database
  between several server instances.

CONCURRENCY:
  The Recorder's per-asset lock only covers one process. WithTx therefore
  reads the asset row with SELECT ... FOR UPDATE, so concurrent recorders
  on other instances queue behind the same row lock.

STORAGE FORMATS:
  Money is NUMERIC. Values cross the wire as decimal strings in both
  directions, so no float ever touches them.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation of the same interfaces
  - depreciation/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/depreciation-engine/depreciation"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	purchase_date DATE NOT NULL,
	purchase_cost NUMERIC NOT NULL,
	residual_value NUMERIC NOT NULL,
	life_years INTEGER NOT NULL,
	method TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS depreciation_entries (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES assets(id),
	entry_date DATE NOT NULL,
	amount NUMERIC NOT NULL CHECK (amount >= 0),
	book_value NUMERIC NOT NULL,
	idempotency_key TEXT,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT depreciation_entries_idempotency_key UNIQUE (asset_id, idempotency_key),
	CONSTRAINT depreciation_entries_asset_date UNIQUE (asset_id, entry_date)
);

CREATE TABLE IF NOT EXISTS posting_runs (
	id TEXT PRIMARY KEY,
	cutoff DATE NOT NULL,
	status TEXT NOT NULL,
	assets_scanned INTEGER NOT NULL DEFAULT 0,
	assets_posted INTEGER NOT NULL DEFAULT 0,
	entries_posted INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_posting_runs_started ON posting_runs(started_at DESC);
`

// Store implements the depreciation storage interfaces on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &Store{pool: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// ASSET REGISTRY
// =============================================================================

const assetColumns = `id, name, purchase_date, purchase_cost::text, residual_value::text, life_years, method, status`

// SaveAsset inserts or updates an asset.
func (s *Store) SaveAsset(ctx context.Context, asset depreciation.Asset) error {
	if asset.Status == "" {
		asset.Status = depreciation.StatusActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, name, purchase_date, purchase_cost, residual_value, life_years, method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			purchase_date = EXCLUDED.purchase_date,
			purchase_cost = EXCLUDED.purchase_cost,
			residual_value = EXCLUDED.residual_value,
			life_years = EXCLUDED.life_years,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			updated_at = NOW()
	`,
		string(asset.ID), asset.Name, asset.PurchaseDate,
		asset.PurchaseCost.String(), asset.ResidualValue.String(),
		asset.LifeYears, string(asset.Method), string(asset.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	return getAsset(ctx, s.pool, id, false)
}

func getAsset(ctx context.Context, q querier, id depreciation.AssetID, forUpdate bool) (*depreciation.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	asset, err := scanAsset(q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	return asset, err
}

func (s *Store) SetAssetStatus(ctx context.Context, id depreciation.AssetID, status depreciation.Status) error {
	return setAssetStatus(ctx, s.pool, id, status)
}

func setAssetStatus(ctx context.Context, q querier, id depreciation.AssetID, status depreciation.Status) error {
	tag, err := q.Exec(ctx,
		`UPDATE assets SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update asset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	return nil
}

// ListAssets returns all assets ordered by ID.
func (s *Store) ListAssets(ctx context.Context) ([]depreciation.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id`)
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

func scanAsset(row pgx.Row) (*depreciation.Asset, error) {
	var (
		asset                      depreciation.Asset
		id, method, status         string
		purchaseCost, residualText string
	)
	err := row.Scan(&id, &asset.Name, &asset.PurchaseDate, &purchaseCost, &residualText,
		&asset.LifeYears, &method, &status)
	if err != nil {
		return nil, err
	}

	asset.ID = depreciation.AssetID(id)
	asset.Method = depreciation.Method(method)
	asset.PurchaseDate = asset.PurchaseDate.UTC()
	if asset.PurchaseCost, err = decimal.NewFromString(purchaseCost); err != nil {
		return nil, fmt.Errorf("asset %s: bad purchase_cost: %w", id, err)
	}
	if asset.ResidualValue, err = decimal.NewFromString(residualText); err != nil {
		return nil, fmt.Errorf("asset %s: bad residual_value: %w", id, err)
	}
	parsed, ok := depreciation.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("asset %s: unknown status %q", id, status)
	}
	asset.Status = parsed
	return &asset, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry depreciation.Entry) error {
	return appendEntry(ctx, s.pool, entry)
}

func appendEntry(ctx context.Context, q querier, entry depreciation.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO depreciation_entries
			(id, asset_id, entry_date, amount, book_value, idempotency_key, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		string(entry.ID), string(entry.AssetID), entry.Date,
		entry.Amount.String(), entry.BookValue.String(),
		nullable(entry.IdempotencyKey), nullable(entry.Reason), createdAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "depreciation_entries_idempotency_key":
			return depreciation.ErrDuplicateIdempotencyKey
		case "depreciation_entries_asset_date":
			return &depreciation.OrderingError{
				AssetID:   entry.AssetID,
				Latest:    entry.Date,
				Attempted: entry.Date,
				Reason:    "an entry already exists on this date",
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	return loadEntries(ctx, s.pool, assetID)
}

func loadEntries(ctx context.Context, q querier, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, asset_id, entry_date, amount::text, book_value::text, idempotency_key, reason, created_at
		FROM depreciation_entries
		WHERE asset_id = $1
		ORDER BY entry_date, created_at
	`, string(assetID))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []depreciation.Entry{}
	for rows.Next() {
		var (
			e                      depreciation.Entry
			id, asset              string
			amount, bookValue      string
			idempotencyKey, reason *string
		)
		if err := rows.Scan(&id, &asset, &e.Date, &amount, &bookValue, &idempotencyKey, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ID = depreciation.EntryID(id)
		e.AssetID = depreciation.AssetID(asset)
		e.Date = e.Date.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("entry %s: bad amount: %w", id, err)
		}
		if e.BookValue, err = decimal.NewFromString(bookValue); err != nil {
			return nil, fmt.Errorf("entry %s: bad book_value: %w", id, err)
		}
		if idempotencyKey != nil {
			e.IdempotencyKey = *idempotencyKey
		}
		if reason != nil {
			e.Reason = *reason
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a database transaction. The asset row read through the
// transaction is locked until commit.
func (s *Store) WithTx(ctx context.Context, fn func(depreciation.Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetAsset(ctx context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	return getAsset(ctx, ts.tx, id, true)
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
// POSTING RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r depreciation.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posting_runs (id, cutoff, status, assets_scanned, assets_posted,
			entries_posted, failures, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			assets_scanned = EXCLUDED.assets_scanned,
			assets_posted = EXCLUDED.assets_posted,
			entries_posted = EXCLUDED.entries_posted,
			failures = EXCLUDED.failures,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`,
		r.ID, r.Cutoff, r.Status, r.AssetsScanned, r.AssetsPosted,
		r.EntriesPosted, r.Failures, nullable(r.Error), r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save posting run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]depreciation.RunRecord, error) {
	query := `
		SELECT id, cutoff, status, assets_scanned, assets_posted, entries_posted,
			failures, error, started_at, completed_at
		FROM posting_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []depreciation.RunRecord{}
	for rows.Next() {
		var r depreciation.RunRecord
		var runErr *string
		if err := rows.Scan(&r.ID, &r.Cutoff, &r.Status, &r.AssetsScanned, &r.AssetsPosted,
			&r.EntriesPosted, &r.Failures, &runErr, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		if runErr != nil {
			r.Error = *runErr
		}
		r.Cutoff = r.Cutoff.UTC()
		r.StartedAt = r.StartedAt.UTC()
		if r.CompletedAt != nil {
			t := r.CompletedAt.UTC()
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE depreciation_entries, posting_runs, assets`)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
