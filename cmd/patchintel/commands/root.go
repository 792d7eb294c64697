package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SiriusScan/patch-intel/patchintel/config"
	"github.com/SiriusScan/patch-intel/patchintel/enrich"
	"github.com/SiriusScan/patch-intel/patchintel/feed"
	"github.com/SiriusScan/patch-intel/patchintel/ingest"
	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/pipeline"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/SiriusScan/patch-intel/patchintel/slogger"
	"github.com/SiriusScan/patch-intel/patchintel/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "patchintel",
	Short: "Patch intelligence ingestion and query service",
	Long: `patchintel ingests vendor patch records from an upstream feed into a
deduplicated store and serves them over a read-only HTTP API.`,
	SilenceUsage: true,
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := postgres.Open(postgres.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, LogLevel: gormLogLevel()})
	if err != nil {
		slog.Error("could not connect to database", "driver", cfg.DBDriver, "error", err)
		return nil, err
	}
	return db, nil
}

// gormLogLevel traces every SQL statement when LOG_LEVEL is debug and keeps
// gorm to warnings otherwise.
func gormLogLevel() logger.LogLevel {
	if slogger.IsDebug() {
		return logger.Info
	}
	return logger.Warn
}

// openKV connects to valkey. It returns nil when valkey is disabled or
// unreachable; callers then run without history or caching.
func openKV(cfg *config.Config) store.KVStore {
	if cfg.ValkeyAddr == "" {
		return nil
	}
	kv, err := store.NewValkeyStore(cfg.ValkeyAddr)
	if err != nil {
		slog.Warn("Valkey unavailable, run history and statistics cache disabled", "addr", cfg.ValkeyAddr, "error", err)
		return nil
	}
	return kv
}

func newPipeline(cfg *config.Config, db *gorm.DB, kv store.KVStore) *pipeline.Pipeline {
	var opts []ingest.Option
	if cfg.ScrapeEnabled {
		opts = append(opts, ingest.WithEnricher(enrich.NewScraper(cfg.ScrapeTimeout)))
	}
	engine := ingest.NewEngine(patch.NewRepository(db), opts...)

	source := feed.NewClient(feed.Config{
		URL:     cfg.FeedURL,
		Token:   cfg.FeedToken,
		Timeout: cfg.FeedTimeout,
		Retries: cfg.FeedRetries,
	})
	return pipeline.New(engine, source, kv)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
