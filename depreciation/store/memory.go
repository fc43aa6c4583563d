// Package store provides in-memory depreciation.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/depreciation-engine/depreciation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for tests, the CLI and demos)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	assets      map[depreciation.AssetID]depreciation.Asset
	entries     map[depreciation.AssetID][]depreciation.Entry
	idempotency map[idempotencyKey]bool
	runs        []depreciation.RunRecord
}

// idempotencyKey scopes a client key to one asset's ledger.
type idempotencyKey struct {
	asset depreciation.AssetID
	key   string
}

func NewMemory() *Memory {
	return &Memory{
		assets:      make(map[depreciation.AssetID]depreciation.Asset),
		entries:     make(map[depreciation.AssetID][]depreciation.Entry),
		idempotency: make(map[idempotencyKey]bool),
	}
}

// Reset drops all assets, entries and runs.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets = make(map[depreciation.AssetID]depreciation.Asset)
	m.entries = make(map[depreciation.AssetID][]depreciation.Entry)
	m.idempotency = make(map[idempotencyKey]bool)
	m.runs = nil
	return nil
}

// SaveAsset registers or replaces an asset. Stands in for the asset registry.
func (m *Memory) SaveAsset(_ context.Context, asset depreciation.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if asset.Status == "" {
		asset.Status = depreciation.StatusActive
	}
	m.assets[asset.ID] = asset
	return nil
}

func (m *Memory) GetAsset(_ context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAssetLocked(id)
}

func (m *Memory) getAssetLocked(id depreciation.AssetID) (*depreciation.Asset, error) {
	asset, ok := m.assets[id]
	if !ok {
		return nil, &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	return &asset, nil
}

func (m *Memory) SetAssetStatus(_ context.Context, id depreciation.AssetID, status depreciation.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStatusLocked(id, status)
}

func (m *Memory) setStatusLocked(id depreciation.AssetID, status depreciation.Status) error {
	asset, ok := m.assets[id]
	if !ok {
		return &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	asset.Status = status
	m.assets[id] = asset
	return nil
}

// ListAssets returns all assets ordered by ID.
func (m *Memory) ListAssets(_ context.Context) ([]depreciation.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assets := make([]depreciation.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

// AppendEntry adds a single entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, entry depreciation.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *Memory) appendLocked(entry depreciation.Entry) error {
	key := idempotencyKey{asset: entry.AssetID, key: entry.IdempotencyKey}
	if entry.IdempotencyKey != "" && m.idempotency[key] {
		return depreciation.ErrDuplicateIdempotencyKey
	}

	entries := m.entries[entry.AssetID]

	// Binary search for insertion point; same-date entries keep arrival order
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Date.After(entry.Date)
	})

	entries = append(entries, depreciation.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	m.entries[entry.AssetID] = entries

	if entry.IdempotencyKey != "" {
		m.idempotency[key] = true
	}
	return nil
}

// Entries returns a copy of the asset's ledger, oldest first.
func (m *Memory) Entries(_ context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(assetID), nil
}

func (m *Memory) entriesLocked(assetID depreciation.AssetID) []depreciation.Entry {
	result := make([]depreciation.Entry, len(m.entries[assetID]))
	copy(result, m.entries[assetID])
	return result
}

// SaveRun inserts or replaces a posting run by ID.
func (m *Memory) SaveRun(_ context.Context, run depreciation.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns runs newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]depreciation.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]depreciation.RunRecord, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[i])
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(depreciation.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	assetsCopy := make(map[depreciation.AssetID]depreciation.Asset, len(tm.assets))
	for k, v := range tm.assets {
		assetsCopy[k] = v
	}
	entriesCopy := make(map[depreciation.AssetID][]depreciation.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entriesCopy[k] = append([]depreciation.Entry{}, v...)
	}
	idempCopy := make(map[idempotencyKey]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{assets: assetsCopy, entries: entriesCopy, idempotency: idempCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.assets = s.assets
	tm.entries = s.entries
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	assets      map[depreciation.AssetID]depreciation.Asset
	entries     map[depreciation.AssetID][]depreciation.Entry
	idempotency map[idempotencyKey]bool
}

// txMemoryView runs with the parent lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetAsset(_ context.Context, id depreciation.AssetID) (*depreciation.Asset, error) {
	return tv.parent.getAssetLocked(id)
}

func (tv *txMemoryView) SetAssetStatus(_ context.Context, id depreciation.AssetID, status depreciation.Status) error {
	return tv.parent.setStatusLocked(id, status)
}

func (tv *txMemoryView) Entries(_ context.Context, assetID depreciation.AssetID) ([]depreciation.Entry, error) {
	return tv.parent.entriesLocked(assetID), nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry depreciation.Entry) error {
	return tv.parent.appendLocked(entry)
}
