package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/depreciation-engine/api"
	"github.com/warp/depreciation-engine/depreciation"
)

func projectCmd(opts *rootOptions) *cobra.Command {
	var file, assetID, start, format string
	var periods int

	c := &cobra.Command{
		Use:   "project",
		Short: "Project future monthly depreciation of one asset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			from, err := parseDate("start", start, opts.today())
			if err != nil {
				return err
			}
			engine, err := opts.engine()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			ws, err := loadWorkspace(ctx, file)
			if err != nil {
				return err
			}
			asset, entries, err := ws.asset(ctx, assetID)
			if err != nil {
				return err
			}

			state, err := engine.ComputeAsOf(*asset, from, entries)
			if err != nil {
				return err
			}
			projected, err := depreciation.NewProjector(engine).ProjectFuture(*asset, state.BookValue, from, periods)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case FormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(api.ProjectionResponse{
					AssetID:          string(asset.ID),
					Start:            from.Format("2006-01-02"),
					StartBookValue:   state.BookValue.StringFixed(depreciation.MoneyPlaces),
					Periods:          periods,
					ProjectedEntries: api.NewProjectedEntryDTOs(projected),
				})
			case FormatCSV:
				w := csv.NewWriter(out)
				_ = w.Write([]string{"date", "amount", "book_value"})
				for _, p := range projected {
					_ = w.Write([]string{p.Date.Format("2006-01-02"),
						p.Amount.StringFixed(depreciation.MoneyPlaces), p.BookValue.StringFixed(depreciation.MoneyPlaces)})
				}
				w.Flush()
				return w.Error()
			}

			fmt.Fprintf(out, "%s from %s, book value %s\n\n", asset.ID, from.Format("2006-01-02"),
				state.BookValue.StringFixed(depreciation.MoneyPlaces))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "DATE\tAMOUNT\tBOOK VALUE\t")
			for _, p := range projected {
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", p.Date.Format("2006-01-02"),
					p.Amount.StringFixed(depreciation.MoneyPlaces), p.BookValue.StringFixed(depreciation.MoneyPlaces))
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVarP(&file, "file", "f", "", "Asset fixture file, YAML or JSON (required)")
	c.Flags().StringVarP(&assetID, "asset", "a", "", "Asset ID (required)")
	c.Flags().StringVar(&start, "start", "", "Projection start YYYY-MM-DD (default today)")
	c.Flags().IntVarP(&periods, "periods", "n", 12, fmt.Sprintf("Months to project (max %d)", depreciation.MaxProjectionPeriods))
	c.Flags().StringVarP(&format, "format", "o", FormatTable, "Output format: table, json or csv")

	_ = c.MarkFlagRequired("file")
	_ = c.MarkFlagRequired("asset")
	return c
}
