package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored reading",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm deletion")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("refusing to delete readings without --yes")
	}

	comps, err := buildComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer comps.Close()

	n, err := comps.store.Count(cmd.Context())
	if err != nil {
		return err
	}
	if err := comps.store.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d readings from %s\n", n, cfg.DBPath)
	return nil
}
