package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/ingest"
	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/SiriusScan/patch-intel/patchintel/runs"
	"github.com/SiriusScan/patch-intel/patchintel/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := postgres.Open(postgres.Config{
		Driver: postgres.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "api.db") + "?_foreign_keys=on",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgres.Close(db) })
	return db
}

func seededServer(t *testing.T, kv store.KVStore) (*Server, ingest.Report) {
	t.Helper()
	db := openTestDB(t)
	report, err := ingest.NewEngine(patch.NewRepository(db)).Ingest(context.Background(), []patchintel.RawRecord{
		{
			"vendor":                "Microsoft",
			"product":               "Windows 10",
			"fixed_version":         "22H2",
			"vulnerabilities_fixed": []interface{}{"CVE-2023-21768", "CVE-2023-0001"},
			"platform_identifier":   "cpe:/o:microsoft:windows_10:22h2",
		},
		{
			"vendor":        "Adobe",
			"product":       "Acrobat Reader",
			"fixed_version": "23.006",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Inserted())
	return NewServer(":0", db, kv), report
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	s, _ := seededServer(t, nil)
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy","service":"patch-intel"}`, rec.Body.String())

	require.NoError(t, postgres.Close(s.db))
	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAndGetPatches(t *testing.T) {
	s, _ := seededServer(t, nil)

	rec := get(t, s, "/api/v1/patches")
	require.Equal(t, http.StatusOK, rec.Code)
	var patches []patchintel.Patch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patches))
	require.Len(t, patches, 2)

	var windows patchintel.Patch
	for _, p := range patches {
		if p.Vendor != nil && *p.Vendor == "Microsoft" {
			windows = p
		}
	}
	require.NotZero(t, windows.ID)

	rec = get(t, s, "/api/v1/patches/"+strconv.FormatUint(uint64(windows.ID), 10))
	require.Equal(t, http.StatusOK, rec.Code)
	var got patchintel.Patch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"CVE-2023-0001", "CVE-2023-21768"}, got.Vulnerabilities)
	assert.Equal(t, []string{"cpe:/o:microsoft:windows_10:22h2"}, got.Platforms)
}

func TestGetPatchNotFound(t *testing.T) {
	s, _ := seededServer(t, nil)
	for _, target := range []string{"/api/v1/patches/9999", "/api/v1/patches/abc", "/api/v1/patches/0"} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, "patch not found", decodeError(t, rec), target)
	}
}

func TestSearchPatches(t *testing.T) {
	s, _ := seededServer(t, nil)

	rec := get(t, s, "/api/v1/patches/search?q=acrobat")
	require.Equal(t, http.StatusOK, rec.Code)
	var patches []patchintel.Patch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patches))
	require.Len(t, patches, 1)
	assert.Equal(t, "Adobe", *patches[0].Vendor)

	rec = get(t, s, "/api/v1/patches/search?q=nothing-matches")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(t, s, "/api/v1/patches/search?q=%20")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "q")
}

func TestStats(t *testing.T) {
	kv := store.NewMemoryStore()
	s, _ := seededServer(t, kv)

	rec := get(t, s, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats patch.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Patches)
	assert.Equal(t, int64(2), stats.Vulnerabilities)
	assert.Equal(t, int64(1), stats.Platforms)
	assert.False(t, stats.Cached)

	rec = get(t, s, "/api/v1/stats")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Cached)
}

func TestRunsDisabledWithoutStore(t *testing.T) {
	s, _ := seededServer(t, nil)
	for _, target := range []string{"/api/v1/runs", "/api/v1/runs/latest", "/api/v1/runs/x"} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestRuns(t *testing.T) {
	kv := store.NewMemoryStore()
	s, report := seededServer(t, kv)

	rec := get(t, s, "/api/v1/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	summary, err := runs.NewManager(kv).Record(context.Background(), report)
	require.NoError(t, err)

	rec = get(t, s, "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest ingest.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, summary.RunID, latest.RunID)
	assert.Equal(t, 2, latest.Inserted)

	rec = get(t, s, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ingest.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = get(t, s, "/api/v1/runs/"+summary.RunID)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = get(t, s, "/api/v1/runs/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s, _ := seededServer(t, nil)

	rec := get(t, s, "/api/v2/patches")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeError(t, rec))

	for _, target := range []string{"/api/v1/patches", "/api/v1/patches/search", "/api/v1/runs/latest", "/health"} {
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
		assert.Equal(t, "method not allowed", decodeError(t, rec), target)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := seededServer(t, nil)
	get(t, s, "/health")
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "patchintel_http_requests_total")
	assert.Contains(t, rec.Body.String(), `patchintel_http_requests_total{code="200",route="/health"}`)
}

func TestMetricsCountUnmatchedRequests(t *testing.T) {
	s, _ := seededServer(t, nil)
	get(t, s, "/api/v1/no-such-route")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/patches/1", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	body := get(t, s, "/metrics").Body.String()
	assert.Contains(t, body, `patchintel_http_requests_total{code="404",route="unmatched"}`)
	assert.Contains(t, body, `patchintel_http_requests_total{code="405",route="unmatched"}`)
}
