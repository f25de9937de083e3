package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [donation-number]",
	Short: "Soft-archive a completed, failed or cancelled donation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false, nil)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Archive(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("archive %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", args[0])
		return nil
	},
}
