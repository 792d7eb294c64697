package nvd

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
)

var cveID = regexp.MustCompile(`^CVE-\d{4}-\d+$`)

// DetailStore is the part of the patch repository backfill writes through.
type DetailStore interface {
	VulnerabilitiesMissingDetails(ctx context.Context, limit int) ([]models.Vulnerability, error)
	FillVulnerabilityDetails(ctx context.Context, id uint, description, severity *string) error
}

type CVELookup interface {
	GetCVE(ctx context.Context, vid string) (CveItem, error)
}

type BackfillResult struct {
	Checked int
	Updated int
	Failed  int
}

// Backfill fills unset vulnerability descriptions and severities from NVD.
// Values already stored are never replaced. Project-local identifiers are
// skipped. delay spaces requests to respect NVD rate limits.
func Backfill(ctx context.Context, store DetailStore, lookup CVELookup, limit int, delay time.Duration) (BackfillResult, error) {
	var result BackfillResult

	vulns, err := store.VulnerabilitiesMissingDetails(ctx, limit)
	if err != nil {
		return result, err
	}

	for _, v := range vulns {
		if !cveID.MatchString(v.Identifier) {
			continue
		}
		if result.Checked > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		result.Checked++
		item, err := lookup.GetCVE(ctx, v.Identifier)
		if err != nil {
			result.Failed++
			slog.Warn("NVD lookup failed", "cve", v.Identifier, "error", err)
			continue
		}
		if item.ID == "" {
			slog.Debug("CVE not known to NVD", "cve", v.Identifier)
			continue
		}

		description, severity := item.Description(), item.Severity()
		if v.Description != nil {
			description = nil
		}
		if v.Severity != nil {
			severity = nil
		}
		if description == nil && severity == nil {
			continue
		}
		if err := store.FillVulnerabilityDetails(ctx, v.ID, description, severity); err != nil {
			return result, fmt.Errorf("failed to store details for %s: %w", v.Identifier, err)
		}
		result.Updated++
	}

	slog.Info("NVD backfill complete", "checked", result.Checked, "updated", result.Updated, "failed", result.Failed)
	return result, nil
}
