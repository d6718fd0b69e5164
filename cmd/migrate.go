package cmd

import (
	"errors"

	"github.com/ethpandaops/medallion/pkg/engine"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/spf13/cobra"
)

// ErrWarehouseNotConfigured is returned when migrate runs without a warehouse DSN
var ErrWarehouseNotConfigured = errors.New("warehouse.dsn is not configured")

//nolint:gochecknoglobals // Cobra commands are typically global
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the warehouse schema migrations",
	Long:  `Creates or upgrades the staging and production schemas of the gold warehouse.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := engine.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	if !cfg.WarehouseEnabled() {
		return ErrWarehouseNotConfigured
	}

	return warehouse.Migrate(logger, &cfg.Warehouse)
}
