/*
handlers.go - HTTP API handlers for the depreciation engine

PURPOSE:
  Exposes the depreciation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Assets:
    GET    /api/assets                          List all assets
    POST   /api/assets                          Register an asset
    GET    /api/assets/{id}                     Asset details
    PUT    /api/assets/{id}/status              Change lifecycle status

  Depreciation:
    GET    /api/assets/{id}/depreciation?as_of= Position at a date
    GET    /api/assets/{id}/entries             Ledger
    POST   /api/assets/{id}/entries             Record depreciation
    GET    /api/assets/{id}/projection          Advisory future entries
    GET    /api/assets/{id}/schedule            Full schedule
    GET    /api/assets/{id}/schedule.csv        Schedule as CSV

  Admin:
    POST   /api/admin/posting-run               Run month-end posting
    GET    /api/admin/posting-runs              Posting run history
    POST   /api/admin/reset                     Clear all data (dev only)

  Fixtures:
    POST   /api/fixtures/load                   Load YAML/JSON fixtures

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: registry + ledger
  - Engine, Recorder, ScheduleBuilder, Projector: domain services
  - Scheduler: shared by the background job and the manual trigger

ERROR HANDLING:
  Errors are returned as JSON {error, details} with HTTP status:
  - 400: Validation errors, invalid input
  - 404: Asset not found
  - 409: Ledger conflict (ordering, idempotency, terminal status)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - fixtures.go: Fixture loading
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/factory"
)

// DefaultProjectionPeriods is used when the projection request has none.
const DefaultProjectionPeriods = 12

// DefaultRunHistoryLimit caps GET /api/admin/posting-runs without ?limit.
const DefaultRunHistoryLimit = 20

var (
	errAssetExists       = errors.New("asset already exists")
	errRunLogUnsupported = errors.New("store does not keep posting run history")
	errResetUnsupported  = errors.New("store does not support reset")
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence. Run history and reset are
// optional and detected at runtime.
type Store interface {
	depreciation.Store
	depreciation.AssetLister
	factory.AssetSaver
}

type resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Engine    depreciation.Engine
	Recorder  *depreciation.Recorder
	Schedules *depreciation.ScheduleBuilder
	Projector depreciation.Projector
	Scheduler *PostingScheduler
	Assets    *factory.AssetFactory
	Logger    *slog.Logger

	// Now is overridable for tests.
	Now func() time.Time
}

// NewHandler wires the domain services around store.
func NewHandler(store Store, engine depreciation.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := depreciation.NewRecorder(store)
	runs, _ := store.(depreciation.RunLog)

	return &Handler{
		Store:     store,
		Engine:    engine,
		Recorder:  recorder,
		Schedules: depreciation.NewScheduleBuilder(store, engine),
		Projector: depreciation.NewProjector(engine),
		Scheduler: NewPostingScheduler(depreciation.NewPostingRun(store, recorder, engine), runs, logger),
		Assets:    factory.NewAssetFactory(),
		Logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) today() time.Time {
	now := h.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// META
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMethods returns the supported depreciation methods.
// GET /api/methods
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	methods := make([]string, len(depreciation.Methods))
	for i, m := range depreciation.Methods {
		methods[i] = string(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": methods})
}

// =============================================================================
// ASSET HANDLERS
// =============================================================================

// ListAssets returns all assets.
// GET /api/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Store.ListAssets(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list assets", err)
		return
	}

	dtos := make([]AssetDTO, len(assets))
	for i, a := range assets {
		dtos[i] = toAssetDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": dtos})
}

// GetAsset returns one asset.
// GET /api/assets/{id}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*asset))
}

// CreateAsset registers a new asset from a factory.AssetJSON body.
// POST /api/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req factory.AssetJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asset, err := h.Assets.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset", err)
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetAsset(ctx, asset.ID); err == nil {
		writeError(w, http.StatusConflict, "Asset already exists", fmt.Errorf("%w: %s", errAssetExists, asset.ID))
		return
	} else if !depreciation.IsNotFound(err) {
		h.writeDomainError(w, r, "Failed to check asset", err)
		return
	}

	if err := h.Store.SaveAsset(ctx, *asset); err != nil {
		h.writeDomainError(w, r, "Failed to save asset", err)
		return
	}

	h.Logger.Info("asset registered", "asset_id", asset.ID, "method", asset.Method)
	writeJSON(w, http.StatusCreated, toAssetDTO(*asset))
}

// UpdateAssetStatus changes the lifecycle status.
// PUT /api/assets/{id}/status
func (h *Handler) UpdateAssetStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	name := strings.ToUpper(strings.TrimSpace(req.Status))
	status, ok := depreciation.ParseStatus(name)
	if name == "" || !ok {
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", req.Status))
		return
	}

	ctx := r.Context()
	id := depreciation.AssetID(chi.URLParam(r, "id"))
	if err := h.Store.SetAssetStatus(ctx, id, status); err != nil {
		h.writeDomainError(w, r, "Failed to update status", err)
		return
	}

	asset, err := h.Store.GetAsset(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get asset", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*asset))
}

// =============================================================================
// DEPRECIATION HANDLERS
// =============================================================================

// GetDepreciation returns accumulated depreciation and book value at as_of
// (default today).
// GET /api/assets/{id}/depreciation?as_of=2025-06-30
func (h *Handler) GetDepreciation(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateParam(r, "as_of", h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	asset, entries, ok := h.loadLedger(w, r)
	if !ok {
		return
	}

	state, err := h.Engine.ComputeAsOf(*asset, asOf, entries)
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute depreciation", err)
		return
	}
	h.warnApproximate(asset.ID, state.Approximate, state.Warnings)
	writeJSON(w, http.StatusOK, toStateDTO(state))
}

// ListEntries returns the ledger in date order.
// GET /api/assets/{id}/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	_, entries, ok := h.loadLedger(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// RecordEntry records depreciation through the Recorder.
// POST /api/assets/{id}/entries
func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	var req RecordEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	id := depreciation.AssetID(chi.URLParam(r, "id"))
	res, err := h.Recorder.RecordDepreciationWithOptions(r.Context(), id, date, amount, depreciation.RecordOptions{
		IdempotencyKey: key,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record depreciation", err)
		return
	}

	if res.Adjusted {
		h.Logger.Warn("depreciation clamped to residual value",
			"asset_id", id,
			"date", res.Entry.Date.Format(time.DateOnly),
			"requested", money(res.RequestedAmount),
			"applied", money(res.Entry.Amount),
			"previous_book_value", money(res.PreviousBookValue))
	} else {
		h.Logger.Info("depreciation recorded",
			"asset_id", id,
			"date", res.Entry.Date.Format(time.DateOnly),
			"amount", money(res.Entry.Amount))
	}
	writeJSON(w, http.StatusCreated, toRecordResultDTO(res))
}

// GetProjection returns advisory future entries starting after `start`
// (default today) from the book value at that date.
// GET /api/assets/{id}/projection?start=2025-01-31&periods=12
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	start, err := dateParam(r, "start", h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date", err)
		return
	}
	periods, err := intParam(r, "periods", DefaultProjectionPeriods)
	if err != nil || periods < 0 {
		writeError(w, http.StatusBadRequest, "Invalid periods", fmt.Errorf("periods must be a non-negative integer"))
		return
	}

	asset, entries, ok := h.loadLedger(w, r)
	if !ok {
		return
	}

	state, err := h.Engine.ComputeAsOf(*asset, start, entries)
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute depreciation", err)
		return
	}

	projected, err := h.Projector.ProjectFuture(*asset, state.BookValue, start, periods)
	if err != nil {
		h.writeDomainError(w, r, "Failed to project depreciation", err)
		return
	}
	h.warnApproximate(asset.ID, state.Approximate, state.Warnings)

	writeJSON(w, http.StatusOK, ProjectionResponse{
		AssetID:          string(asset.ID),
		Start:            formatDate(start),
		StartBookValue:   money(state.BookValue),
		Periods:          periods,
		ProjectedEntries: NewProjectedEntryDTOs(projected),
	})
}

// GetSchedule returns the full schedule as of as_of (default today).
// GET /api/assets/{id}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.buildSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewScheduleDTO(schedule))
}

// GetScheduleCSV returns recorded and projected rows as CSV.
// GET /api/assets/{id}/schedule.csv
func (h *Handler) GetScheduleCSV(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.buildSchedule(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(schedule.AssetID)+"-schedule.csv"))
	w.WriteHeader(http.StatusOK)

	if err := WriteScheduleCSV(w, schedule); err != nil {
		h.Logger.Error("failed to write schedule csv", "asset_id", schedule.AssetID, "error", err)
	}
}

// WriteScheduleCSV writes one row per recorded and projected entry.
func WriteScheduleCSV(w io.Writer, schedule *depreciation.Schedule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "date", "amount", "book_value", "reason"}); err != nil {
		return err
	}
	for _, e := range schedule.Entries {
		if err := cw.Write([]string{"recorded", formatDate(e.Date), money(e.Amount), money(e.BookValue), e.Reason}); err != nil {
			return err
		}
	}
	for _, p := range schedule.ProjectedEntries {
		if err := cw.Write([]string{"projected", formatDate(p.Date), money(p.Amount), money(p.BookValue), ""}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (h *Handler) buildSchedule(w http.ResponseWriter, r *http.Request) (*depreciation.Schedule, bool) {
	asOf, err := dateParam(r, "as_of", h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return nil, false
	}

	schedule, err := h.Schedules.GenerateScheduleAsOf(r.Context(), depreciation.AssetID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		h.writeDomainError(w, r, "Failed to build schedule", err)
		return nil, false
	}
	h.warnApproximate(schedule.AssetID, schedule.Approximate, schedule.Warnings)
	return schedule, true
}

func (h *Handler) warnApproximate(assetID depreciation.AssetID, approximate bool, warnings []string) {
	if approximate {
		h.Logger.Warn("approximate depreciation", "asset_id", assetID, "warnings", warnings)
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerPostingRun posts every due month up to cutoff (default today).
// POST /api/admin/posting-run
func (h *Handler) TriggerPostingRun(w http.ResponseWriter, r *http.Request) {
	var req PostingRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cutoff := h.today()
	if req.Cutoff != "" {
		parsed, err := time.Parse(time.DateOnly, req.Cutoff)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cutoff date", err)
			return
		}
		cutoff = parsed
	}

	run, summary, err := h.Scheduler.RunNow(r.Context(), cutoff)
	if err != nil {
		h.writeDomainError(w, r, "Posting run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostingRunResponse(run, summary))
}

// ListPostingRuns returns posting run history, newest first.
// GET /api/admin/posting-runs?limit=20
func (h *Handler) ListPostingRuns(w http.ResponseWriter, r *http.Request) {
	runLog, ok := h.Store.(depreciation.RunLog)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Run history unavailable", errRunLogUnsupported)
		return
	}

	limit, err := intParam(r, "limit", DefaultRunHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	runs, err := runLog.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list posting runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// ResetStore deletes all assets, entries and runs.
// POST /api/admin/reset
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Reset unavailable", errResetUnsupported)
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset store", err)
		return
	}
	h.Logger.Warn("store reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadAsset(w http.ResponseWriter, r *http.Request) (*depreciation.Asset, bool) {
	id := depreciation.AssetID(chi.URLParam(r, "id"))
	asset, err := h.Store.GetAsset(r.Context(), id)
	if err == nil && asset == nil {
		err = &depreciation.AssetError{AssetID: id, Err: depreciation.ErrAssetNotFound}
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to get asset", err)
		return nil, false
	}
	return asset, true
}

func (h *Handler) loadLedger(w http.ResponseWriter, r *http.Request) (*depreciation.Asset, []depreciation.Entry, bool) {
	asset, ok := h.loadAsset(w, r)
	if !ok {
		return nil, nil, false
	}
	entries, err := h.Store.Entries(r.Context(), asset.ID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get entries", err)
		return nil, nil, false
	}
	return asset, entries, true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case depreciation.IsNotFound(err):
		return http.StatusNotFound
	case depreciation.IsConflict(err):
		return http.StatusConflict
	case depreciation.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, "error", err, "path", r.URL.Path)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func dateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
