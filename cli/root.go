// Package cli implements the deprec command: offline schedules, projections
// and fixture validation against an in-memory ledger.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/depreciation/store"
	"github.com/warp/depreciation-engine/factory"
	"github.com/warp/depreciation-engine/logger"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel   string
	lifeFactor string
	now        func() time.Time
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{now: func() time.Time { return time.Now().UTC() }}

	cmd := &cobra.Command{
		Use:          "deprec",
		Short:        "Depreciation schedules and projections from asset fixtures",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.Setup(logger.Config{Level: opts.logLevel, Output: cmd.ErrOrStderr()})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&opts.lifeFactor, "declining-life-factor", depreciation.DefaultDecliningLifeFactor.String(),
		"horizon for declining methods, as a multiple of the nominal life")

	cmd.AddCommand(scheduleCmd(opts))
	cmd.AddCommand(projectCmd(opts))
	cmd.AddCommand(validateCmd(opts))
	return cmd
}

func (o *rootOptions) engine() (depreciation.Engine, error) {
	factor, err := decimal.NewFromString(o.lifeFactor)
	if err != nil || !factor.IsPositive() {
		return depreciation.Engine{}, fmt.Errorf("invalid --declining-life-factor %q", o.lifeFactor)
	}
	engine := depreciation.NewEngine()
	engine.DecliningLifeFactor = factor
	return engine, nil
}

func (o *rootOptions) today() time.Time {
	now := o.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// parseDate reads a YYYY-MM-DD flag. Empty means fallback.
func parseDate(flag, value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", flag, value)
	}
	return t, nil
}

// workspace is a fixture file loaded into an in-memory ledger.
type workspace struct {
	store  *store.TxMemory
	result factory.ApplyResult
}

func loadWorkspace(ctx context.Context, path string) (*workspace, error) {
	f := factory.NewAssetFactory()
	set, err := f.LoadFile(path)
	if err != nil {
		return nil, err
	}

	s := store.NewTxMemory()
	result, err := f.Apply(ctx, set, s, depreciation.NewRecorder(s))
	if err != nil {
		return nil, err
	}
	logger.L().Debug("fixtures loaded", "path", path, "assets", result.Assets, "entries", result.EntriesRecorded)
	return &workspace{store: s, result: result}, nil
}

func (w *workspace) asset(ctx context.Context, id string) (*depreciation.Asset, []depreciation.Entry, error) {
	asset, err := w.store.GetAsset(ctx, depreciation.AssetID(id))
	if err != nil {
		return nil, nil, err
	}
	entries, err := w.store.Entries(ctx, asset.ID)
	if err != nil {
		return nil, nil, err
	}
	return asset, entries, nil
}

func checkFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatCSV:
		return nil
	}
	return fmt.Errorf("unknown --format %q: want table, json or csv", format)
}
