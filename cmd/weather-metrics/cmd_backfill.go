package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-metrics/internal/store"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <csv>...",
	Short: "Load historical readings from CSV files",
	Long: `Load historical readings from one or more CSV files. Rows already stored
for the same station and timestamp are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer comps.Close()

	for _, path := range args {
		res, err := store.LoadCSVFile(cmd.Context(), comps.store, path, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: rows=%d inserted=%d invalid=%d\n", path, res.Rows, res.Inserted, res.Invalid)
	}
	return nil
}
