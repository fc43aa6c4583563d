/*
fixtures.go - Fixture loading for demos and local development

PURPOSE:
  Loads asset fixtures (see factory/asset.go for the format) into the
  store, either at server start-up or through the API. History rows are
  replayed through the Recorder so the ledger invariants hold for fixture
  data too.

USAGE:
  curl -X POST --data-binary @assets.yaml \
       -H 'Content-Type: application/yaml' \
       'localhost:8080/api/fixtures/load?reset=true'

SEE ALSO:
  - factory/asset.go: Parsing and Apply
  - cmd/server/main.go: -fixtures flag
*/
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/warp/depreciation-engine/factory"
)

// MaxFixtureBytes caps the fixture request body.
const MaxFixtureBytes = 10 << 20

// LoadFixtures loads a fixture document from the request body.
// POST /api/fixtures/load?format=yaml|json&reset=true
func (h *Handler) LoadFixtures(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFixtureBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read fixtures", err)
		return
	}

	set, err := h.Assets.ParseFixtures(data, requestFormat(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fixtures", err)
		return
	}

	ctx := r.Context()
	if r.URL.Query().Get("reset") == "true" {
		rs, ok := h.Store.(resetter)
		if !ok {
			writeError(w, http.StatusNotImplemented, "Reset unavailable", errResetUnsupported)
			return
		}
		if err := rs.Reset(ctx); err != nil {
			h.writeDomainError(w, r, "Failed to reset store", err)
			return
		}
	}

	result, err := h.Assets.Apply(ctx, set, h.Store, h.Recorder)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load fixtures", err)
		return
	}

	h.Logger.Info("fixtures loaded",
		"assets", result.Assets,
		"entries_recorded", result.EntriesRecorded,
		"entries_skipped", result.EntriesSkipped)
	writeJSON(w, http.StatusOK, result)
}

// LoadFixtureFile loads a fixture file at start-up.
func (h *Handler) LoadFixtureFile(ctx context.Context, path string) (factory.ApplyResult, error) {
	set, err := h.Assets.LoadFile(path)
	if err != nil {
		return factory.ApplyResult{}, err
	}
	result, err := h.Assets.Apply(ctx, set, h.Store, h.Recorder)
	if err != nil {
		return result, fmt.Errorf("load fixtures %s: %w", path, err)
	}
	h.Logger.Info("fixtures loaded", "path", path, "assets", result.Assets, "entries_recorded", result.EntriesRecorded)
	return result, nil
}

func requestFormat(r *http.Request) factory.Format {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "json":
		return factory.FormatJSON
	case "yaml", "yml":
		return factory.FormatYAML
	}
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		return factory.FormatJSON
	}
	return factory.FormatYAML
}
