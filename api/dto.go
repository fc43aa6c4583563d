/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  All amounts are decimal strings with two places ("1234.50"). Clients
  must not parse them as floats for arithmetic.

DATES:
  Calendar dates are "2006-01-02". Timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/asset.go: AssetJSON type (asset create body)
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/depreciation-engine/depreciation"
)

// =============================================================================
// ASSETS
// =============================================================================

// AssetDTO represents an asset in API responses.
type AssetDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	PurchaseDate      string `json:"purchase_date"`
	PurchaseCost      string `json:"purchase_cost"`
	ResidualValue     string `json:"residual_value"`
	DepreciableAmount string `json:"depreciable_amount"`
	LifeYears         int    `json:"life_years"`
	Method            string `json:"method"`
	Status            string `json:"status"`
}

// UpdateStatusRequest changes an asset's lifecycle status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents a ledger row.
type EntryDTO struct {
	ID             string `json:"id"`
	AssetID        string `json:"asset_id"`
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	BookValue      string `json:"book_value"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Reason         string `json:"reason,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// RecordEntryRequest is the body of POST /api/assets/{id}/entries.
// The Idempotency-Key header is used when the body has no key.
type RecordEntryRequest struct {
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RecordResultDTO reports what the Recorder actually wrote.
type RecordResultDTO struct {
	Entry             EntryDTO `json:"entry"`
	PreviousBookValue string   `json:"previous_book_value"`
	RequestedAmount   string   `json:"requested_amount"`
	Adjusted          bool     `json:"adjusted"`
	StatusChanged     bool     `json:"status_changed"`
}

// =============================================================================
// STATE / PROJECTION / SCHEDULE
// =============================================================================

// StateDTO is the position of an asset at a date.
type StateDTO struct {
	AssetID                 string   `json:"asset_id"`
	AsOf                    string   `json:"as_of"`
	AccumulatedDepreciation string   `json:"accumulated_depreciation"`
	BookValue               string   `json:"book_value"`
	Source                  string   `json:"source"`
	EntryCount              int      `json:"entry_count"`
	Approximate             bool     `json:"approximate,omitempty"`
	Warnings                []string `json:"warnings,omitempty"`
}

// ProjectedEntryDTO is an advisory future entry.
type ProjectedEntryDTO struct {
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	BookValue string `json:"book_value"`
}

// ProjectionResponse wraps a projection with its inputs.
type ProjectionResponse struct {
	AssetID          string              `json:"asset_id"`
	Start            string              `json:"start"`
	StartBookValue   string              `json:"start_book_value"`
	Periods          int                 `json:"periods"`
	ProjectedEntries []ProjectedEntryDTO `json:"projected_entries"`
}

// ScheduleDTO is the full depreciation picture for one asset.
type ScheduleDTO struct {
	AssetID                 string              `json:"asset_id"`
	Method                  string              `json:"method"`
	Status                  string              `json:"status"`
	AsOf                    string              `json:"as_of"`
	OriginalCost            string              `json:"original_cost"`
	ResidualValue           string              `json:"residual_value"`
	DepreciableAmount       string              `json:"depreciable_amount"`
	AccumulatedDepreciation string              `json:"accumulated_depreciation"`
	CurrentBookValue        string              `json:"current_book_value"`
	IsFullyDepreciated      bool                `json:"is_fully_depreciated"`
	RemainingLifeMonths     int                 `json:"remaining_life_months"`
	FullyDepreciatedDate    string              `json:"fully_depreciated_date"`
	Source                  string              `json:"source"`
	Entries                 []EntryDTO          `json:"entries"`
	ProjectedEntries        []ProjectedEntryDTO `json:"projected_entries"`
	Approximate             bool                `json:"approximate,omitempty"`
	Warnings                []string            `json:"warnings,omitempty"`
}

// =============================================================================
// POSTING RUNS
// =============================================================================

// PostingRunRequest triggers a posting run. Empty cutoff means today.
type PostingRunRequest struct {
	Cutoff string `json:"cutoff,omitempty"`
}

// RunDTO is one posting run in history.
type RunDTO struct {
	ID            string `json:"id"`
	Cutoff        string `json:"cutoff"`
	Status        string `json:"status"`
	AssetsScanned int    `json:"assets_scanned"`
	AssetsPosted  int    `json:"assets_posted"`
	EntriesPosted int    `json:"entries_posted"`
	Failures      int    `json:"failures"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// PostingFailureDTO names an asset the run could not finish.
type PostingFailureDTO struct {
	AssetID string `json:"asset_id"`
	Error   string `json:"error"`
}

// PostingRunResponse is the result of a triggered run.
type PostingRunResponse struct {
	Run       RunDTO              `json:"run"`
	Entries   []EntryDTO          `json:"entries"`
	Adjusted  int                 `json:"adjusted"`
	Completed []string            `json:"completed"`
	Failures  []PostingFailureDTO `json:"failures"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(depreciation.MoneyPlaces)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func toAssetDTO(a depreciation.Asset) AssetDTO {
	return AssetDTO{
		ID:                string(a.ID),
		Name:              a.Name,
		PurchaseDate:      formatDate(a.PurchaseDate),
		PurchaseCost:      money(a.PurchaseCost),
		ResidualValue:     money(a.ResidualValue),
		DepreciableAmount: money(a.DepreciableAmount()),
		LifeYears:         a.LifeYears,
		Method:            string(a.Method),
		Status:            string(a.Status),
	}
}

func toEntryDTO(e depreciation.Entry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		AssetID:        string(e.AssetID),
		Date:           formatDate(e.Date),
		Amount:         money(e.Amount),
		BookValue:      money(e.BookValue),
		IdempotencyKey: e.IdempotencyKey,
		Reason:         e.Reason,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toEntryDTOs(entries []depreciation.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// NewProjectedEntryDTOs converts projected entries for JSON output.
func NewProjectedEntryDTOs(projected []depreciation.ProjectedEntry) []ProjectedEntryDTO {
	dtos := make([]ProjectedEntryDTO, len(projected))
	for i, p := range projected {
		dtos[i] = ProjectedEntryDTO{
			Date:      formatDate(p.Date),
			Amount:    money(p.Amount),
			BookValue: money(p.BookValue),
		}
	}
	return dtos
}

func toStateDTO(s depreciation.State) StateDTO {
	return StateDTO{
		AssetID:                 string(s.AssetID),
		AsOf:                    formatDate(s.AsOf),
		AccumulatedDepreciation: money(s.Accumulated),
		BookValue:               money(s.BookValue),
		Source:                  string(s.Source),
		EntryCount:              len(s.Entries),
		Approximate:             s.Approximate,
		Warnings:                s.Warnings,
	}
}

// NewScheduleDTO converts a schedule for JSON output.
func NewScheduleDTO(s *depreciation.Schedule) ScheduleDTO {
	return ScheduleDTO{
		AssetID:                 string(s.AssetID),
		Method:                  string(s.Method),
		Status:                  string(s.Status),
		AsOf:                    formatDate(s.AsOf),
		OriginalCost:            money(s.OriginalCost),
		ResidualValue:           money(s.ResidualValue),
		DepreciableAmount:       money(s.DepreciableAmount),
		AccumulatedDepreciation: money(s.AccumulatedDepreciation),
		CurrentBookValue:        money(s.CurrentBookValue),
		IsFullyDepreciated:      s.IsFullyDepreciated,
		RemainingLifeMonths:     s.RemainingLifeMonths,
		FullyDepreciatedDate:    formatDate(s.FullyDepreciatedDate),
		Source:                  string(s.Source),
		Entries:                 toEntryDTOs(s.Entries),
		ProjectedEntries:        NewProjectedEntryDTOs(s.ProjectedEntries),
		Approximate:             s.Approximate,
		Warnings:                s.Warnings,
	}
}

func toRecordResultDTO(res *depreciation.RecordResult) RecordResultDTO {
	return RecordResultDTO{
		Entry:             toEntryDTO(res.Entry),
		PreviousBookValue: money(res.PreviousBookValue),
		RequestedAmount:   money(res.RequestedAmount),
		Adjusted:          res.Adjusted,
		StatusChanged:     res.StatusChanged,
	}
}

func toRunDTO(run depreciation.RunRecord) RunDTO {
	dto := RunDTO{
		ID:            run.ID,
		Cutoff:        formatDate(run.Cutoff),
		Status:        run.Status,
		AssetsScanned: run.AssetsScanned,
		AssetsPosted:  run.AssetsPosted,
		EntriesPosted: run.EntriesPosted,
		Failures:      run.Failures,
		Error:         run.Error,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toPostingRunResponse(run depreciation.RunRecord, summary *depreciation.PostingSummary) PostingRunResponse {
	resp := PostingRunResponse{
		Run:       toRunDTO(run),
		Entries:   []EntryDTO{},
		Completed: []string{},
		Failures:  []PostingFailureDTO{},
	}
	if summary == nil {
		return resp
	}
	resp.Entries = toEntryDTOs(summary.Entries)
	resp.Adjusted = summary.Adjusted
	for _, id := range summary.Completed {
		resp.Completed = append(resp.Completed, string(id))
	}
	for _, f := range summary.Failures {
		resp.Failures = append(resp.Failures, PostingFailureDTO{AssetID: string(f.AssetID), Error: f.Err.Error()})
	}
	return resp
}
