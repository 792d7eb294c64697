package commands

import (
	"context"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/api"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only patch API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTPAddr = addr
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

			server := api.NewServer(cfg.HTTPAddr, db, kv)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	serve.Flags().String("addr", "", "listen address, overrides PATCHINTEL_HTTP_ADDR")
	return serve
}
