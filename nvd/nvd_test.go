package nvd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cveResponse = `{
  "resultsPerPage": 1, "startIndex": 0, "totalResults": 1, "format": "NVD_CVE", "version": "2.0",
  "vulnerabilities": [{"cve": {
    "id": "CVE-2023-21768",
    "vulnStatus": "Analyzed",
    "descriptions": [
      {"lang": "es", "value": "Vulnerabilidad"},
      {"lang": "en", "value": "Windows Ancillary Function Driver for WinSock Elevation of Privilege Vulnerability"}
    ],
    "metrics": {
      "cvssMetricV31": [
        {"source": "secure@microsoft.com", "type": "Secondary", "cvssData": {"version": "3.1", "baseScore": 7.0, "baseSeverity": "HIGH"}},
        {"source": "nvd@nist.gov", "type": "Primary", "cvssData": {"version": "3.1", "baseScore": 7.8, "baseSeverity": "HIGH"}}
      ]
    }
  }}]
}`

func TestGetCVE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("apiKey"))
		if r.URL.Query().Get("cveId") != "CVE-2023-21768" {
			_, _ = w.Write([]byte(`{"vulnerabilities": []}`))
			return
		}
		_, _ = w.Write([]byte(cveResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1")
	item, err := client.GetCVE(context.Background(), "CVE-2023-21768")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2023-21768", item.ID)
	require.NotNil(t, item.Description())
	assert.Contains(t, *item.Description(), "WinSock")
	assert.Equal(t, "HIGH", *item.Severity())

	item, err = client.GetCVE(context.Background(), "CVE-1999-0001")
	require.NoError(t, err)
	assert.Empty(t, item.ID)
}

func TestGetCVEStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").GetCVE(context.Background(), "CVE-2023-21768")
	assert.Error(t, err)
}

func TestSeverityFallsBackToV2(t *testing.T) {
	medium := "medium"
	item := CveItem{Metrics: Metrics{CvssMetricV2: []CvssMetricV2{{BaseSeverity: &medium}}}}
	assert.Equal(t, "MEDIUM", *item.Severity())
	assert.Nil(t, CveItem{}.Severity())
	assert.Nil(t, CveItem{}.Description())
}

type fakeDetailStore struct {
	vulns   []models.Vulnerability
	updates map[uint][2]*string
}

func (f *fakeDetailStore) VulnerabilitiesMissingDetails(ctx context.Context, limit int) ([]models.Vulnerability, error) {
	return f.vulns, nil
}

func (f *fakeDetailStore) FillVulnerabilityDetails(ctx context.Context, id uint, description, severity *string) error {
	f.updates[id] = [2]*string{description, severity}
	return nil
}

type fakeLookup map[string]CveItem

func (f fakeLookup) GetCVE(ctx context.Context, vid string) (CveItem, error) {
	if vid == "CVE-2023-9999" {
		return CveItem{}, errors.New("rate limited")
	}
	return f[vid], nil
}

func TestBackfillOnlyFillsUnsetFields(t *testing.T) {
	high := "HIGH"
	store := &fakeDetailStore{
		vulns: []models.Vulnerability{
			{ID: 1, Identifier: "CVE-2023-21768", Severity: &high},
			{ID: 2, Identifier: "MS-LOCAL-7"},
			{ID: 3, Identifier: "CVE-2023-9999"},
			{ID: 4, Identifier: "CVE-2023-0404"},
		},
		updates: map[uint][2]*string{},
	}
	critical := "CRITICAL"
	lookup := fakeLookup{
		"CVE-2023-21768": {
			ID:           "CVE-2023-21768",
			Descriptions: []LangString{{Lang: "en", Value: "Elevation of privilege"}},
			Metrics:      Metrics{CvssMetricV2: []CvssMetricV2{{BaseSeverity: &critical}}},
		},
	}

	result, err := Backfill(context.Background(), store, lookup, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Checked: 3, Updated: 1, Failed: 1}, result)

	require.Contains(t, store.updates, uint(1))
	assert.Equal(t, "Elevation of privilege", *store.updates[1][0])
	assert.Nil(t, store.updates[1][1], "stored severity is kept")
	assert.NotContains(t, store.updates, uint(2))
}
