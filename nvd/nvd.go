package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the NVD CVE API 2.0 endpoint.
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// =============== Types ===============

// Top-level response
type NVDResponse struct {
	ResultsPerPage  int          `json:"resultsPerPage"`
	StartIndex      int          `json:"startIndex"`
	TotalResults    int          `json:"totalResults"`
	Format          string       `json:"format"`
	Version         string       `json:"version"`
	Timestamp       string       `json:"timestamp"`
	Vulnerabilities []DefCVEItem `json:"vulnerabilities"`
}

// An item in the "vulnerabilities" array
type DefCVEItem struct {
	CVE CveItem `json:"cve"`
}

// CVE object per NVD schema, limited to the fields backfill reads.
type CveItem struct {
	ID           string       `json:"id"`
	VulnStatus   string       `json:"vulnStatus"`
	Published    string       `json:"published"`
	LastModified string       `json:"lastModified"`
	Descriptions []LangString `json:"descriptions"`
	Metrics      Metrics      `json:"metrics,omitempty"`
}

// "descriptions" array items
type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Container for multiple CVSS versions
type Metrics struct {
	CvssMetricV40 []CvssMetric   `json:"cvssMetricV40,omitempty"`
	CvssMetricV31 []CvssMetric   `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssMetric   `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []CvssMetricV2 `json:"cvssMetricV2,omitempty"`
}

// CVSS v3.x and v4.0 share the shape backfill needs.
type CvssMetric struct {
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	CvssData CvssData `json:"cvssData"`
}

type CvssData struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

// CVSS v2.0 carries severity beside the data block.
type CvssMetricV2 struct {
	Source       string   `json:"source"`
	Type         string   `json:"type"`
	CvssData     CvssData `json:"cvssData"`
	BaseSeverity *string  `json:"baseSeverity,omitempty"`
}

// Description returns the English description, if any.
func (c CveItem) Description() *string {
	for _, d := range c.Descriptions {
		if strings.EqualFold(d.Lang, "en") && strings.TrimSpace(d.Value) != "" {
			v := strings.TrimSpace(d.Value)
			return &v
		}
	}
	return nil
}

// Severity returns the base severity of the newest CVSS version present,
// preferring the NVD "Primary" assessment within a version.
func (c CveItem) Severity() *string {
	for _, metrics := range [][]CvssMetric{c.Metrics.CvssMetricV40, c.Metrics.CvssMetricV31, c.Metrics.CvssMetricV30} {
		if s := pickSeverity(metrics); s != nil {
			return s
		}
	}
	for _, m := range c.Metrics.CvssMetricV2 {
		if m.BaseSeverity != nil && *m.BaseSeverity != "" {
			v := strings.ToUpper(*m.BaseSeverity)
			return &v
		}
	}
	return nil
}

func pickSeverity(metrics []CvssMetric) *string {
	var fallback *string
	for _, m := range metrics {
		if m.CvssData.BaseSeverity == "" {
			continue
		}
		v := strings.ToUpper(m.CvssData.BaseSeverity)
		if m.Type == "Primary" {
			return &v
		}
		if fallback == nil {
			fallback = &v
		}
	}
	return fallback
}

// =============== Client ===============

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for baseURL (DefaultBaseURL when empty). apiKey
// is optional; NVD applies stricter rate limits without one.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetCVE looks one CVE up. An unknown id yields a zero CveItem and no error.
func (c *Client) GetCVE(ctx context.Context, vid string) (CveItem, error) {
	var baseCve CveItem

	u := c.baseURL + "?cveId=" + url.QueryEscape(vid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return baseCve, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return baseCve, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return baseCve, nil
	}
	if resp.StatusCode != http.StatusOK {
		return baseCve, fmt.Errorf("received status code %d from NVD API", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return baseCve, fmt.Errorf("failed to read response body: %w", err)
	}
	var nvdResp NVDResponse
	if err := json.Unmarshal(bodyBytes, &nvdResp); err != nil {
		return baseCve, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if len(nvdResp.Vulnerabilities) == 0 {
		return CveItem{}, nil
	}
	return nvdResp.Vulnerabilities[0].CVE, nil
}
