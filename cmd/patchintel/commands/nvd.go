package commands

import (
	"fmt"
	"time"

	"github.com/SiriusScan/patch-intel/nvd"
	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/spf13/cobra"
)

func NewNVDBackfillCommand() *cobra.Command {
	backfill := &cobra.Command{
		Use:   "nvd-backfill",
		Short: "Fill missing vulnerability descriptions and severities from NVD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			delay, _ := cmd.Flags().GetDuration("delay")
			if !cmd.Flags().Changed("delay") && cfg.NVDAPIKey != "" {
				// Keyed clients get a tenfold higher rate limit.
				delay = 600 * time.Millisecond
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer postgres.Close(db)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			result, err := nvd.Backfill(ctx, patch.NewRepository(db), nvd.NewClient(cfg.NVDURL, cfg.NVDAPIKey), limit, delay)
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, updated %d, failed %d\n", result.Checked, result.Updated, result.Failed)
			return err
		},
	}

	backfill.Flags().Int("limit", 100, "maximum number of vulnerabilities to look up")
	backfill.Flags().Duration("delay", 6*time.Second, "pause between NVD requests")
	return backfill
}
