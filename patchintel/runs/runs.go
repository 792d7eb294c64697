// Package runs keeps the summaries of recent ingestion runs in the key/value
// store.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/ingest"
	"github.com/SiriusScan/patch-intel/patchintel/store"
)

const (
	keyPrefix = "ingest:run:"
	// MaxRuns is the number of most recent runs kept.
	MaxRuns = 20
	// idLayout is fixed width so ids sort chronologically as strings.
	idLayout = "20060102T150405.000000000Z"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrNoRuns      = errors.New("no runs recorded")
)

// Manager handles run history CRUD and trimming.
type Manager struct {
	kvStore store.KVStore
}

func NewManager(kvStore store.KVStore) *Manager {
	return &Manager{kvStore: kvStore}
}

// NewRunID derives a sortable run id from the run's start time.
func NewRunID(started time.Time) string {
	return started.UTC().Format(idLayout)
}

// Record stores the summary of report and trims old runs.
func (m *Manager) Record(ctx context.Context, report ingest.Report) (ingest.Summary, error) {
	summary := report.Summary(NewRunID(report.StartedAt()))
	if err := m.Save(ctx, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Save stores summary under its run id and trims old runs.
func (m *Manager) Save(ctx context.Context, summary ingest.Summary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run summary has no id")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := m.kvStore.SetValue(ctx, keyPrefix+summary.RunID, string(data)); err != nil {
		return fmt.Errorf("failed to save run %s: %w", summary.RunID, err)
	}

	if err := m.Cleanup(ctx); err != nil {
		slog.Warn("Failed to clean up old runs", "error", err)
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, runID string) (*ingest.Summary, error) {
	resp, err := m.kvStore.GetValue(ctx, keyPrefix+runID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var summary ingest.Summary
	if err := json.Unmarshal([]byte(resp.Message.Value), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &summary, nil
}

// ListIDs returns stored run ids, most recent first.
func (m *Manager) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := m.kvStore.ListKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := strings.TrimPrefix(key, keyPrefix); id != key && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// List returns up to limit summaries, most recent first. Entries that fail to
// load are skipped.
func (m *Manager) List(ctx context.Context, limit int) ([]ingest.Summary, error) {
	ids, err := m.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	summaries := make([]ingest.Summary, 0, len(ids))
	for _, id := range ids {
		summary, err := m.Get(ctx, id)
		if err != nil {
			slog.Debug("Skipping unreadable run", "run_id", id, "error", err)
			continue
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

func (m *Manager) Latest(ctx context.Context) (*ingest.Summary, error) {
	ids, err := m.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoRuns
	}
	return m.Get(ctx, ids[0])
}

// Cleanup keeps only the MaxRuns most recent runs.
func (m *Manager) Cleanup(ctx context.Context) error {
	ids, err := m.ListIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= MaxRuns {
		return nil
	}

	for _, id := range ids[MaxRuns:] {
		key := keyPrefix + id
		if err := m.kvStore.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to delete old run", "key", key, "error", err)
		}
	}
	return nil
}
