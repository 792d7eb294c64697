package commands

import (
	"fmt"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/queue"
	"github.com/spf13/cobra"
)

func NewTriggerCommand() *cobra.Command {
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a worker to run an ingestion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")

			msg, err := queue.Trigger{File: file, RequestedAt: time.Now().UTC()}.Encode()
			if err != nil {
				return err
			}
			if err := queue.NewBroker(cfg.RabbitMQURL).Send(cfg.Queue, msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger sent to %s\n", cfg.Queue)
			return nil
		},
	}

	trigger.Flags().StringP("file", "f", "", "file on the worker's filesystem to ingest instead of the feed")
	return trigger
}
