package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/ustawi/donation-gateway/utils"
)

var (
	reconcileOlderThan time.Duration
	reconcileLimit     int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-verify pending and processing donations that never got a webhook",
	Long: `Re-verify every pending or processing donation older than --older-than
with Paystack and apply the verified result.

Examples:
  donation-gateway reconcile
  donation-gateway reconcile --older-than 2h --limit 500`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true, nil)
		if err != nil {
			return err
		}
		defer a.close()

		settled, err := a.reconciler.ReconcileStale(cmd.Context(), reconcileOlderThan, reconcileLimit)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		a.log.Info("stale donations reconciled", utils.Fields{"settled": settled, "older_than": reconcileOlderThan.String()})
		fmt.Fprintf(cmd.OutOrStdout(), "settled %d donations\n", settled)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileOlderThan, "older-than", 30*time.Minute, "only donations created at least this long ago")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 100, "maximum donations to check")
}
