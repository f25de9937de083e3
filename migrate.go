package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ustawi/donation-gateway/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the donations and payment_transactions tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false, nil)
		if err != nil {
			return err
		}
		defer a.close()

		if err := utils.MigrateDatabase(a.db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.log.Info("database migrated", utils.Fields{"driver": a.config.Database.Driver})
		return nil
	},
}
