/*
Package factory provides JSON/YAML to Go asset conversion.

PURPOSE:
  Converts asset definitions (fixtures) into validated depreciation.Asset
  values, optionally with a recorded history that is replayed through the
  Recorder. Used by server start-up, the fixture endpoint and the CLI.

SCHEMA (YAML shown, JSON uses the same keys):
  assets:
    - id: laptop-1
      name: Engineering laptop
      purchase_date: 2024-01-15
      purchase_cost: "2400.00"
      residual_value: 0
      life_years: 3
      method: straight_line
      status: active
      history:
        - date: 2024-02-15
          amount: "66.67"
          reason: opening balance

  Amounts may be numbers or strings. Strings avoid float rounding in
  the YAML/JSON decoder and are preferred.

  Method and status names are case-insensitive; "-" and " " are read as
  "_". Short method names are accepted: sl, db, ddb, syd, uop.

USAGE:
  factory := NewAssetFactory()

  asset, err := factory.ParseAsset(jsonString)
  set, err := factory.ParseFixtures(data, FormatYAML)
  result, err := factory.Apply(ctx, set, store, recorder)

SEE ALSO:
  - depreciation/types.go: Asset type definition
  - api/handlers.go: POST /api/fixtures/load
  - cli/: deprec schedule|project|validate
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/depreciation-engine/depreciation"
)

// DateLayout is the only accepted date format in fixtures.
const DateLayout = time.DateOnly

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// AssetJSON is the serialized form of an asset.
type AssetJSON struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	PurchaseDate  string        `json:"purchase_date" yaml:"purchase_date"`
	PurchaseCost  Amount        `json:"purchase_cost" yaml:"purchase_cost"`
	ResidualValue Amount        `json:"residual_value" yaml:"residual_value"`
	LifeYears     int           `json:"life_years" yaml:"life_years"`
	Method        string        `json:"method" yaml:"method"`
	Status        string        `json:"status,omitempty" yaml:"status,omitempty"`
	History       []HistoryJSON `json:"history,omitempty" yaml:"history,omitempty"`
}

// HistoryJSON is one recorded entry to replay.
type HistoryJSON struct {
	Date           string `json:"date" yaml:"date"`
	Amount         Amount `json:"amount" yaml:"amount"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
}

// FixtureJSON is the top-level document.
type FixtureJSON struct {
	Assets []AssetJSON `json:"assets" yaml:"assets"`
}

// Amount is a decimal literal that decodes from a number or a string.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or a string: %s", data)
	}
	*a = Amount(n.String())
	return nil
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	*a = Amount(node.Value)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// Decimal parses the amount. Empty means zero.
func (a Amount) Decimal() (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// =============================================================================
// PARSED TYPES
// =============================================================================

// Fixture is a validated asset with its history.
type Fixture struct {
	Asset   depreciation.Asset
	History []HistoryEntry
}

// HistoryEntry is a parsed history row.
type HistoryEntry struct {
	Date           time.Time
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// FixtureSet is an ordered collection of fixtures with unique IDs.
type FixtureSet struct {
	Fixtures []Fixture
}

// Asset looks up a fixture by ID.
func (s *FixtureSet) Asset(id depreciation.AssetID) (Fixture, bool) {
	for _, f := range s.Fixtures {
		if f.Asset.ID == id {
			return f, true
		}
	}
	return Fixture{}, false
}

// Format selects the decoder.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks JSON for .json files and YAML otherwise.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// =============================================================================
// ASSET FACTORY
// =============================================================================

// AssetFactory converts serialized assets into domain assets.
type AssetFactory struct{}

func NewAssetFactory() *AssetFactory {
	return &AssetFactory{}
}

// ParseAsset parses a single JSON asset.
func (f *AssetFactory) ParseAsset(jsonStr string) (*depreciation.Asset, error) {
	var aj AssetJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(aj)
}

// FromJSON converts and validates an AssetJSON.
func (f *AssetFactory) FromJSON(aj AssetJSON) (*depreciation.Asset, error) {
	if strings.TrimSpace(aj.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", depreciation.ErrInvalidAsset)
	}

	purchaseDate, err := time.Parse(DateLayout, aj.PurchaseDate)
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: invalid purchase_date %q", depreciation.ErrInvalidAsset, aj.ID, aj.PurchaseDate)
	}
	cost, err := aj.PurchaseCost.Decimal()
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: invalid purchase_cost %q", depreciation.ErrInvalidAsset, aj.ID, aj.PurchaseCost)
	}
	residual, err := aj.ResidualValue.Decimal()
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: invalid residual_value %q", depreciation.ErrInvalidAsset, aj.ID, aj.ResidualValue)
	}

	status, ok := depreciation.ParseStatus(normalizeName(aj.Status))
	if !ok {
		return nil, fmt.Errorf("%w: asset %s: unknown status %q", depreciation.ErrInvalidAsset, aj.ID, aj.Status)
	}

	asset := &depreciation.Asset{
		ID:            depreciation.AssetID(aj.ID),
		Name:          aj.Name,
		PurchaseDate:  purchaseDate,
		PurchaseCost:  cost,
		ResidualValue: residual,
		LifeYears:     aj.LifeYears,
		Method:        ParseMethod(aj.Method),
		Status:        status,
	}
	if asset.Name == "" {
		asset.Name = aj.ID
	}
	if err := asset.Validate(); err != nil {
		return nil, err
	}
	return asset, nil
}

// ToJSON converts a domain asset back to its serialized form.
func (f *AssetFactory) ToJSON(asset depreciation.Asset) AssetJSON {
	return AssetJSON{
		ID:            string(asset.ID),
		Name:          asset.Name,
		PurchaseDate:  asset.PurchaseDate.Format(DateLayout),
		PurchaseCost:  Amount(asset.PurchaseCost.StringFixed(depreciation.MoneyPlaces)),
		ResidualValue: Amount(asset.ResidualValue.StringFixed(depreciation.MoneyPlaces)),
		LifeYears:     asset.LifeYears,
		Method:        string(asset.Method),
		Status:        string(asset.Status),
	}
}

// ParseMethod accepts canonical names, lower/kebab case and short aliases.
// Unknown names pass through so Validate reports them.
func ParseMethod(s string) depreciation.Method {
	name := normalizeName(s)
	switch name {
	case "SL":
		return depreciation.StraightLine
	case "DB":
		return depreciation.DecliningBalance
	case "DDB":
		return depreciation.DoubleDecliningBalance
	case "SYD":
		return depreciation.SumOfYearsDigits
	case "UOP":
		return depreciation.UnitsOfProduction
	}
	return depreciation.Method(name)
}

func normalizeName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// =============================================================================
// FIXTURES
// =============================================================================

// ParseFixtures decodes and validates a fixture document. Every error is
// reported, not just the first.
func (f *AssetFactory) ParseFixtures(data []byte, format Format) (*FixtureSet, error) {
	var doc FixtureJSON
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s fixtures: %w", format, err)
	}

	set := &FixtureSet{}
	seen := make(map[string]bool)
	var errs []error
	for i, aj := range doc.Assets {
		if seen[aj.ID] {
			errs = append(errs, fmt.Errorf("assets[%d]: duplicate id %q", i, aj.ID))
			continue
		}
		seen[aj.ID] = true

		fixture, err := f.fixtureFromJSON(aj)
		if err != nil {
			errs = append(errs, fmt.Errorf("assets[%d]: %w", i, err))
			continue
		}
		set.Fixtures = append(set.Fixtures, fixture)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// LoadFile reads and parses a fixture file.
func (f *AssetFactory) LoadFile(path string) (*FixtureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return f.ParseFixtures(data, FormatFromPath(path))
}

func (f *AssetFactory) fixtureFromJSON(aj AssetJSON) (Fixture, error) {
	asset, err := f.FromJSON(aj)
	if err != nil {
		return Fixture{}, err
	}

	fixture := Fixture{Asset: *asset}
	for j, hj := range aj.History {
		d, err := time.Parse(DateLayout, hj.Date)
		if err != nil {
			return Fixture{}, fmt.Errorf("history[%d]: invalid date %q", j, hj.Date)
		}
		amount, err := hj.Amount.Decimal()
		if err != nil {
			return Fixture{}, fmt.Errorf("history[%d]: invalid amount %q", j, hj.Amount)
		}
		fixture.History = append(fixture.History, HistoryEntry{
			Date:           d,
			Amount:         amount,
			Reason:         hj.Reason,
			IdempotencyKey: hj.IdempotencyKey,
		})
	}
	return fixture, nil
}

// =============================================================================
// APPLY
// =============================================================================

// AssetSaver is the registry write side the loader needs.
type AssetSaver interface {
	SaveAsset(ctx context.Context, asset depreciation.Asset) error
}

// ApplyResult counts what a load changed.
type ApplyResult struct {
	Assets          int `json:"assets"`
	EntriesRecorded int `json:"entries_recorded"`
	EntriesSkipped  int `json:"entries_skipped"`
}

// FixtureKey is the idempotency key for a history row without one.
func FixtureKey(assetID depreciation.AssetID, d time.Time) string {
	return fmt.Sprintf("fixture:%s:%s", assetID, d.Format(DateLayout))
}

// Apply saves every asset and replays its history through the Recorder.
// Rows already in the ledger (same idempotency key) are skipped, so a
// fixture file can be loaded more than once.
func (f *AssetFactory) Apply(ctx context.Context, set *FixtureSet, saver AssetSaver, recorder *depreciation.Recorder) (ApplyResult, error) {
	var result ApplyResult
	for _, fixture := range set.Fixtures {
		if err := saver.SaveAsset(ctx, fixture.Asset); err != nil {
			return result, fmt.Errorf("save asset %s: %w", fixture.Asset.ID, err)
		}
		result.Assets++

		for _, h := range fixture.History {
			key := h.IdempotencyKey
			if key == "" {
				key = FixtureKey(fixture.Asset.ID, h.Date)
			}
			opts := depreciation.RecordOptions{IdempotencyKey: key, Reason: h.Reason}
			_, err := recorder.RecordDepreciationWithOptions(ctx, fixture.Asset.ID, h.Date, h.Amount, opts)
			switch {
			case errors.Is(err, depreciation.ErrDuplicateIdempotencyKey):
				result.EntriesSkipped++
			case err != nil:
				return result, fmt.Errorf("replay history for %s on %s: %w", fixture.Asset.ID, h.Date.Format(DateLayout), err)
			default:
				result.EntriesRecorded++
			}
		}
	}
	return result, nil
}
