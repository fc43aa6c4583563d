package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func validateCmd(opts *rootOptions) *cobra.Command {
	var file string

	c := &cobra.Command{
		Use:   "validate",
		Short: "Validate an asset fixture file and replay its history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.engine(); err != nil {
				return err
			}
			ws, err := loadWorkspace(cmd.Context(), file)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d assets, %d history entries\n",
				ws.result.Assets, ws.result.EntriesRecorded)
			return nil
		},
	}

	c.Flags().StringVarP(&file, "file", "f", "", "Asset fixture file, YAML or JSON (required)")
	_ = c.MarkFlagRequired("file")
	return c
}
