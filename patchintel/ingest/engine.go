// Package ingest persists batches of raw patch records into the entity store
// idempotently and reports what happened to every record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/enrich"
	"github.com/SiriusScan/patch-intel/patchintel/metrics"
	"github.com/SiriusScan/patch-intel/patchintel/normalize"
	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"gorm.io/datatypes"
)

// Enricher supplies supplementary note fields for a record about to be
// inserted. It owns any I/O it performs and must not fail; returning nil
// leaves the record unchanged.
type Enricher interface {
	Enrich(ctx context.Context, rec normalize.Record) enrich.Fields
}

type Engine struct {
	store    patch.Store
	enricher Enricher
}

type Option func(*Engine)

// WithEnricher merges fields from e into records that are not yet stored.
func WithEnricher(e Enricher) Option {
	return func(en *Engine) {
		en.enricher = e
	}
}

// NewEngine creates an Engine writing through store.
func NewEngine(store patch.Store, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome int

const (
	outcomeInserted outcome = iota + 1
	outcomeSkipped
)

// Ingest processes batch in order. Malformed records and per-record storage
// errors are recorded in the report and never stop the batch. The returned
// error is non-nil only when the store cannot be reached at all
// (ErrStoreUnavailable) or ctx is cancelled mid-run; in the latter case the
// report still accounts for every record.
func (e *Engine) Ingest(ctx context.Context, batch []patchintel.RawRecord) (Report, error) {
	if err := e.store.Ping(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	start := time.Now()
	b := newReportBuilder(len(batch))

	for i, raw := range batch {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(batch); j++ {
				b.fail(j, batch[j], ReasonNotProcessed, err)
			}
			metrics.RecordsIngested.WithLabelValues(metrics.OutcomeFailed).Add(float64(len(batch) - i))
			report := b.finish()
			slog.Warn("Ingestion run cancelled", "processed", i, "total", len(batch))
			return report, fmt.Errorf("ingestion cancelled after %d of %d records: %w", i, len(batch), err)
		}

		rec, err := normalize.Normalize(raw)
		if err != nil {
			slog.Warn("Skipping malformed record", "index", i, "error", err)
			b.fail(i, raw, ReasonMalformedRecord, err)
			metrics.RecordsIngested.WithLabelValues(metrics.OutcomeFailed).Inc()
			continue
		}

		result, err := e.ingestRecord(ctx, rec)
		if err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrStorageFailure, rec.Label(), err)
			slog.Warn("Failed to store record", "index", i, "patch", rec.Label(), "error", err)
			b.fail(i, raw, ReasonStorageFailure, err)
			metrics.RecordsIngested.WithLabelValues(metrics.OutcomeFailed).Inc()
			continue
		}

		switch result {
		case outcomeInserted:
			slog.Debug("Ingested patch", "index", i, "patch", rec.Label(), "vulnerabilities", len(rec.Vulnerabilities))
			b.inserted()
			metrics.RecordsIngested.WithLabelValues(metrics.OutcomeInserted).Inc()
		case outcomeSkipped:
			slog.Debug("Skipping duplicate record", "index", i, "patch", rec.Label())
			b.skipped()
			metrics.RecordsIngested.WithLabelValues(metrics.OutcomeSkipped).Inc()
		}
	}

	report := b.finish()
	metrics.IngestRunDuration.Observe(time.Since(start).Seconds())
	slog.Info("Ingestion run complete",
		"total", report.Total(),
		"inserted", report.Inserted(),
		"skipped", report.Skipped(),
		"failed", report.Failed(),
		"duration", report.Duration())
	return report, nil
}

// ingestRecord stores one normalized record and its links inside a single
// transaction, so a failure never leaves a patch without its links.
func (e *Engine) ingestRecord(ctx context.Context, rec normalize.Record) (outcome, error) {
	if e.enricher != nil {
		// Look before enriching so duplicates cost no page fetch. The check
		// inside the transaction below stays authoritative.
		existing, err := e.store.FindPatch(ctx, rec.Digest)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return outcomeSkipped, sameRecord(existing, rec)
		}
		rec.Attributes = enrich.Merge(rec.Attributes, e.enricher.Enrich(ctx, rec))
	}

	var result outcome
	err := e.store.WithinTransaction(ctx, func(tx patch.EntityStore) error {
		result = 0

		existing, err := tx.FindPatch(ctx, rec.Digest)
		if err != nil {
			return err
		}
		if existing != nil {
			result = outcomeSkipped
			return sameRecord(existing, rec)
		}

		row := patchRow(rec)
		if err := tx.InsertPatch(ctx, &row); err != nil {
			if !errors.Is(err, patch.ErrDuplicateKey) {
				return err
			}
			// A concurrent run stored the same record first.
			existing, ferr := tx.FindPatch(ctx, rec.Digest)
			if ferr != nil {
				return ferr
			}
			if existing == nil {
				return fmt.Errorf("patch insert reported a duplicate but no row matches: %w", err)
			}
			result = outcomeSkipped
			return sameRecord(existing, rec)
		}

		for _, ref := range rec.Vulnerabilities {
			vuln, err := findOrCreate(
				func() (*models.Vulnerability, error) { return tx.FindVulnerability(ctx, ref.Identifier) },
				func(v *models.Vulnerability) error { return tx.InsertVulnerability(ctx, v) },
				&models.Vulnerability{Identifier: ref.Identifier, Description: ref.Description, Severity: ref.Severity},
			)
			if err != nil {
				return err
			}
			if err := tx.LinkVulnerability(ctx, row.ID, vuln.ID); err != nil {
				return err
			}
		}

		if rec.Platform != nil {
			platform, err := findOrCreate(
				func() (*models.PlatformIdentifier, error) { return tx.FindPlatform(ctx, *rec.Platform) },
				func(p *models.PlatformIdentifier) error { return tx.InsertPlatform(ctx, p) },
				&models.PlatformIdentifier{Identifier: *rec.Platform, Vendor: rec.PlatformNames.Vendor, Product: rec.PlatformNames.Product},
			)
			if err != nil {
				return err
			}
			if err := tx.LinkPlatform(ctx, row.ID, platform.ID); err != nil {
				return err
			}
		}

		result = outcomeInserted
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// sameRecord guards the digest lookup against a hash collision by comparing
// the full canonical forms.
func sameRecord(existing *models.Patch, rec normalize.Record) error {
	if existing.Serialized != rec.Serialized {
		return fmt.Errorf("digest %s of %s collides with stored patch %d", rec.Digest, rec.Label(), existing.ID)
	}
	return nil
}

// findOrCreate returns the existing row, or inserts fresh. A lost insert race
// resolves to the winner's row.
func findOrCreate[T any](find func() (*T, error), insert func(*T) error, fresh *T) (*T, error) {
	existing, err := find()
	if err != nil || existing != nil {
		return existing, err
	}

	err = insert(fresh)
	if err == nil {
		return fresh, nil
	}
	if !errors.Is(err, patch.ErrDuplicateKey) {
		return nil, err
	}

	existing, ferr := find()
	if ferr != nil {
		return nil, ferr
	}
	if existing == nil {
		return nil, fmt.Errorf("insert reported a duplicate but no row matches: %w", err)
	}
	return existing, nil
}

func patchRow(rec normalize.Record) models.Patch {
	a := rec.Attributes
	row := models.Patch{
		Vendor:            a.Vendor,
		Product:           a.Product,
		FixedVersion:      a.FixedVersion,
		Reference:         a.Reference,
		PerformanceIssues: a.PerformanceIssues,
		CrashLikelihood:   a.CrashLikelihood,
		RebootRequired:    a.RebootRequired,
		EndOfLife:         a.EndOfLife,
		KnownIssues:       a.KnownIssues,
		Serialized:        rec.Serialized,
		SerializedDigest:  rec.Digest,
	}
	if a.Metadata != nil {
		row.Metadata = datatypes.JSONMap(a.Metadata)
	}
	return row
}
