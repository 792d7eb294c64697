package commands

import (
	"context"
	"log/slog"

	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/SiriusScan/patch-intel/patchintel/queue"
	"github.com/spf13/cobra"
)

func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run an ingestion for every trigger message on the queue",
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

			kv := openKV(cfg)
			if kv != nil {
				defer kv.Close()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p := newPipeline(cfg, db, kv)
			broker := queue.NewBroker(cfg.RabbitMQURL)

			// Messages are delivered one at a time, so runs never overlap.
			broker.ListenWithRetry(ctx, cfg.Queue, func(ctx context.Context, msg string) {
				trigger, err := queue.DecodeTrigger(msg)
				if err != nil {
					slog.Error("Dropping trigger", "error", err)
					return
				}
				slog.Info("Ingestion triggered", "file", trigger.File, "requested_at", trigger.RequestedAt)

				report, err := p.Run(ctx, trigger.File)
				if err != nil {
					slog.Error("Ingestion run failed", "error", err)
					return
				}
				slog.Info("Ingestion run finished",
					"total", report.Total(),
					"inserted", report.Inserted(),
					"skipped", report.Skipped(),
					"failed", report.Failed())
			})
			return nil
		},
	}
}
