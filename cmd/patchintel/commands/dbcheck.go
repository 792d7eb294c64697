package commands

import (
	"fmt"

	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/spf13/cobra"
)

func NewDBCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "db-check",
		Short: "Check the database connection and print row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer postgres.Close(db)

			if err := patch.NewRepository(db).Ping(cmd.Context()); err != nil {
				return fmt.Errorf("database not reachable: %w", err)
			}
			stats, err := patch.GetStatistics(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s database ready: %d patches, %d vulnerabilities, %d platforms\n",
				cfg.DBDriver, stats.Patches, stats.Vulnerabilities, stats.Platforms)
			return nil
		},
	}
}
