package commands

import (
	"fmt"
	"log/slog"

	"github.com/SiriusScan/patch-intel/patchintel/ingest"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/spf13/cobra"
)

func NewIngestCommand() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the patch feed (or read a local file) and ingest it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			if file == "" && cfg.FeedURL == "" {
				return fmt.Errorf("either --file or PATCHINTEL_FEED_URL is required")
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer postgres.Close(db)

			kv := openKV(cfg)
			if kv != nil {
				defer kv.Close()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			report, err := newPipeline(cfg, db, kv).Run(ctx, file)
			printReport(cmd, report)
			return err
		},
	}

	ingestCmd.Flags().StringP("file", "f", "", "ingest records from a local JSON file instead of the feed")
	return ingestCmd
}

func printReport(cmd *cobra.Command, report ingest.Report) {
	fmt.Fprintln(cmd.OutOrStdout(), report.String())
	if report.Failed() > 0 {
		slog.Warn("Some records were not ingested", "failed", report.Failed())
	}
}
