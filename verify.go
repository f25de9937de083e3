package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [donation-number]",
	Short: "Re-verify a donation with Paystack and apply the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true, nil)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.reconciler.Reverify(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("verify %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (status %s, ledger recorded: %t)\n",
			res.Donation.DonationNumber, res.Outcome, res.Donation.Status, res.Recorded)
		return nil
	},
}
