package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/depreciation-engine/api"
	"github.com/warp/depreciation-engine/depreciation"
)

func scheduleCmd(opts *rootOptions) *cobra.Command {
	var file, assetID, asOf, format string

	c := &cobra.Command{
		Use:   "schedule",
		Short: "Print the depreciation schedule of one asset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			at, err := parseDate("as-of", asOf, opts.today())
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

			schedule, err := depreciation.NewScheduleBuilder(ws.store, engine).
				GenerateScheduleAsOf(ctx, depreciation.AssetID(assetID), at)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case FormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(api.NewScheduleDTO(schedule))
			case FormatCSV:
				return api.WriteScheduleCSV(out, schedule)
			}
			return writeScheduleTable(out, schedule)
		},
	}

	c.Flags().StringVarP(&file, "file", "f", "", "Asset fixture file, YAML or JSON (required)")
	c.Flags().StringVarP(&assetID, "asset", "a", "", "Asset ID (required)")
	c.Flags().StringVar(&asOf, "as-of", "", "Schedule date YYYY-MM-DD (default today)")
	c.Flags().StringVarP(&format, "format", "o", FormatTable, "Output format: table, json or csv")

	_ = c.MarkFlagRequired("file")
	_ = c.MarkFlagRequired("asset")
	return c
}

func writeScheduleTable(out io.Writer, s *depreciation.Schedule) error {
	fmt.Fprintf(out, "Asset:                %s (%s, %s)\n", s.AssetID, s.Method, s.Status)
	fmt.Fprintf(out, "As of:                %s\n", s.AsOf.Format("2006-01-02"))
	fmt.Fprintf(out, "Original cost:        %s\n", s.OriginalCost.StringFixed(depreciation.MoneyPlaces))
	fmt.Fprintf(out, "Residual value:       %s\n", s.ResidualValue.StringFixed(depreciation.MoneyPlaces))
	fmt.Fprintf(out, "Accumulated:          %s\n", s.AccumulatedDepreciation.StringFixed(depreciation.MoneyPlaces))
	fmt.Fprintf(out, "Book value:           %s\n", s.CurrentBookValue.StringFixed(depreciation.MoneyPlaces))
	fmt.Fprintf(out, "Remaining months:     %d\n", s.RemainingLifeMonths)
	fmt.Fprintf(out, "Fully depreciated on: %s\n", s.FullyDepreciatedDate.Format("2006-01-02"))
	for _, w := range s.Warnings {
		fmt.Fprintf(out, "Warning:              %s\n", w)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "KIND\tDATE\tAMOUNT\tBOOK VALUE\t")
	for _, e := range s.Entries {
		fmt.Fprintf(tw, "recorded\t%s\t%s\t%s\t\n", e.Date.Format("2006-01-02"),
			e.Amount.StringFixed(depreciation.MoneyPlaces), e.BookValue.StringFixed(depreciation.MoneyPlaces))
	}
	for _, p := range s.ProjectedEntries {
		fmt.Fprintf(tw, "projected\t%s\t%s\t%s\t\n", p.Date.Format("2006-01-02"),
			p.Amount.StringFixed(depreciation.MoneyPlaces), p.BookValue.StringFixed(depreciation.MoneyPlaces))
	}
	return tw.Flush()
}
