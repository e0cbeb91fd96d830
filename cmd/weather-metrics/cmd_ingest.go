package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over the configured locations",
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer comps.Close()

	outcomes := comps.service.Refresh(cmd.Context())
	if len(outcomes) == 0 {
		return fmt.Errorf("no locations configured")
	}

	failed := 0
	for _, o := range outcomes {
		status := "ok"
		if o.Failed() {
			failed++
			status = o.Err.Error()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s inserted=%d skipped=%t %s\n", o.Location.Key(), o.InsertedCount, o.Skipped, status)
	}
	if failed == len(outcomes) {
		return fmt.Errorf("ingestion failed for all %d locations", failed)
	}
	return nil
}
