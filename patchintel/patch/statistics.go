package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"github.com/SiriusScan/patch-intel/patchintel/store"
	"gorm.io/gorm"
)

const (
	// CacheKeyStatistics is the key cached statistics are stored under.
	CacheKeyStatistics = "stats:patch_summary"
	// CacheTTL is the statistics cache lifetime in seconds.
	CacheTTL = 60
	// TopVendorLimit is the number of vendors listed in Statistics.
	TopVendorLimit = 10
)

type VendorCount struct {
	Vendor  string `json:"vendor" gorm:"column:vendor"`
	Patches int64  `json:"patches" gorm:"column:patch_count"`
}

// SeverityCount is the number of vulnerabilities at one severity. Rows with no
// severity are counted under SeverityUnknown.
type SeverityCount struct {
	Severity        string `json:"severity" gorm:"column:severity_label"`
	Vulnerabilities int64  `json:"vulnerabilities" gorm:"column:vuln_count"`
}

const SeverityUnknown = "UNKNOWN"

// Statistics summarizes the entity store.
type Statistics struct {
	Patches            int64           `json:"patches"`
	Vulnerabilities    int64           `json:"vulnerabilities"`
	Platforms          int64           `json:"platforms"`
	VulnerabilityLinks int64           `json:"vulnerability_links"`
	PlatformLinks      int64           `json:"platform_links"`
	TopVendors         []VendorCount   `json:"top_vendors"`
	Severities         []SeverityCount `json:"severities"`
	GeneratedAt        string          `json:"generated_at"`
	Cached             bool            `json:"cached"`
}

// GetStatistics counts rows in each relation, ranks vendors by patch count and
// breaks vulnerabilities down by severity.
func GetStatistics(ctx context.Context, db *gorm.DB) (Statistics, error) {
	if db == nil {
		return Statistics{}, fmt.Errorf("database connection not available")
	}
	db = db.WithContext(ctx)

	var stats Statistics
	counts := []struct {
		model interface{}
		dest  *int64
	}{
		{&models.Patch{}, &stats.Patches},
		{&models.Vulnerability{}, &stats.Vulnerabilities},
		{&models.PlatformIdentifier{}, &stats.Platforms},
		{&models.PatchVulnerability{}, &stats.VulnerabilityLinks},
		{&models.PatchPlatform{}, &stats.PlatformLinks},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return Statistics{}, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	stats.TopVendors = make([]VendorCount, 0, TopVendorLimit)
	err := db.Model(&models.Patch{}).
		Select("vendor, COUNT(*) AS patch_count").
		Where("vendor IS NOT NULL").
		Group("vendor").
		Order("patch_count DESC, vendor").
		Limit(TopVendorLimit).
		Scan(&stats.TopVendors).Error
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to query top vendors: %w", err)
	}

	stats.Severities = make([]SeverityCount, 0)
	err = db.Model(&models.Vulnerability{}).
		Select("COALESCE(UPPER(severity), '" + SeverityUnknown + "') AS severity_label, COUNT(*) AS vuln_count").
		Group("severity_label").
		Order("vuln_count DESC, severity_label").
		Scan(&stats.Severities).Error
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to count severities: %w", err)
	}

	stats.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return stats, nil
}

// GetStatisticsCached serves statistics from kv when present and caches
// fresh results for CacheTTL seconds. A nil kv disables caching; cache errors
// fall back to a fresh calculation.
func GetStatisticsCached(ctx context.Context, db *gorm.DB, kv store.KVStore) (Statistics, error) {
	if kv == nil {
		return GetStatistics(ctx, db)
	}

	if cached, err := kv.GetValue(ctx, CacheKeyStatistics); err == nil {
		var stats Statistics
		if err := json.Unmarshal([]byte(cached.Message.Value), &stats); err == nil {
			stats.Cached = true
			return stats, nil
		}
		slog.Debug("Statistics cache entry unreadable, recalculating")
	}

	stats, err := GetStatistics(ctx, db)
	if err != nil {
		return Statistics{}, err
	}
	if data, err := json.Marshal(stats); err == nil {
		if err := kv.SetValueWithTTL(ctx, CacheKeyStatistics, string(data), CacheTTL); err != nil {
			slog.Debug("Failed to cache statistics", "error", err)
		}
	}
	return stats, nil
}

// InvalidateStatisticsCache drops cached statistics, typically after an
// ingestion run inserted rows.
func InvalidateStatisticsCache(ctx context.Context, kv store.KVStore) error {
	if kv == nil {
		return nil
	}
	return kv.DeleteValue(ctx, CacheKeyStatistics)
}
