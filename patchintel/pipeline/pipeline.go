// Package pipeline runs one complete ingestion: load records, ingest them,
// then keep the run summary and drop stale cached statistics.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/feed"
	"github.com/SiriusScan/patch-intel/patchintel/ingest"
	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/runs"
	"github.com/SiriusScan/patch-intel/patchintel/store"
)

// Source yields one batch of raw records.
type Source interface {
	Fetch(ctx context.Context) ([]patchintel.RawRecord, error)
}

type Pipeline struct {
	engine *ingest.Engine
	source Source
	kv     store.KVStore
	runs   *runs.Manager
}

// New builds a pipeline. kv may be nil, in which case run history and cache
// invalidation are skipped.
func New(engine *ingest.Engine, source Source, kv store.KVStore) *Pipeline {
	p := &Pipeline{engine: engine, source: source, kv: kv}
	if kv != nil {
		p.runs = runs.NewManager(kv)
	}
	return p
}

// Run ingests the records of file when it is set and of the source otherwise.
// A load failure is returned before anything is written. The report is
// returned even when the run was cut short.
func (p *Pipeline) Run(ctx context.Context, file string) (ingest.Report, error) {
	records, err := p.load(ctx, file)
	if err != nil {
		return ingest.Report{}, err
	}

	report, err := p.engine.Ingest(ctx, records)
	if errors.Is(err, ingest.ErrStoreUnavailable) {
		return report, err
	}

	// History and cache upkeep must not be skipped on cancellation.
	upkeep := context.WithoutCancel(ctx)
	if p.runs != nil {
		summary, recErr := p.runs.Record(upkeep, report)
		if recErr != nil {
			slog.Warn("Failed to record ingestion run", "error", recErr)
		} else {
			slog.Info("Recorded ingestion run", "run_id", summary.RunID)
		}
	}
	if report.Inserted() > 0 {
		if invErr := patch.InvalidateStatisticsCache(upkeep, p.kv); invErr != nil {
			slog.Debug("Failed to invalidate statistics cache", "error", invErr)
		}
	}
	return report, err
}

func (p *Pipeline) load(ctx context.Context, file string) ([]patchintel.RawRecord, error) {
	if file != "" {
		records, err := feed.ReadFile(file)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded records from file", "file", file, "count", len(records))
		return records, nil
	}
	if p.source == nil {
		return nil, errors.New("no feed configured")
	}
	return p.source.Fetch(ctx)
}
