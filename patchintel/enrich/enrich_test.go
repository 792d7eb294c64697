package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const advisoryPage = `<!doctype html>
<html><head><title>KB5031000</title><script>var x = "Known issues";</script></head>
<body>
  <h1>October 2023 cumulative update</h1>
  <p>Improvements and fixes.</p>
  <h2>Known issues in this update</h2>
  <ul>
    <li>Some apps may fail to open <b>after</b> installing.</li>
    <li>Printing to network printers can stall.</li>
  </ul>
  <h2>Restart information</h2>
  <p>You must restart your device after you apply this update.</p>
  <h2>How to get this update</h2>
  <p>Windows Update.</p>
  <dl><dt>End of support</dt><dd>October 14, 2025</dd></dl>
</body></html>`

func strPtr(s string) *string { return &s }

func TestMergeFillsOnlyAbsentNotes(t *testing.T) {
	attrs := normalize.Attributes{
		Vendor:      strPtr("Microsoft"),
		KnownIssues: strPtr("from the feed"),
	}
	merged := Merge(attrs, Fields{
		"known_issues":    "from the page",
		"reboot_required": "Restart required",
		"end_of_life":     "   ",
		"vendor":          "ignored",
	})

	assert.Equal(t, "from the feed", *merged.KnownIssues)
	assert.Equal(t, "Restart required", *merged.RebootRequired)
	assert.Nil(t, merged.EndOfLife)
	assert.Equal(t, "Microsoft", *merged.Vendor)
	assert.Nil(t, attrs.RebootRequired, "input attributes are not modified")
}

func TestMergeEmptyFieldsIsNoOp(t *testing.T) {
	attrs := normalize.Attributes{Product: strPtr("Windows 10")}
	assert.Equal(t, attrs, Merge(attrs, nil))
	assert.Equal(t, attrs, Merge(attrs, Fields{}))
}

func TestScrapeExtractsSections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(advisoryPage))
	}))
	defer srv.Close()

	fields, err := NewScraper(5*time.Second).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Some apps may fail to open after installing.\nPrinting to network printers can stall.", fields["known_issues"])
	assert.Equal(t, "You must restart your device after you apply this update.", fields["reboot_required"])
	assert.Equal(t, "October 14, 2025", fields["end_of_life"])
	assert.NotContains(t, fields, "performance_issues")
}

func TestEnrichIsSoftOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewScraper(5 * time.Second)
	rec := normalize.Record{Attributes: normalize.Attributes{Reference: strPtr(srv.URL + "/kb")}}
	assert.Nil(t, s.Enrich(context.Background(), rec))

	rec.Attributes.Reference = strPtr("KB5031000")
	assert.Nil(t, s.Enrich(context.Background(), rec))

	rec.Attributes.Reference = nil
	assert.Nil(t, s.Enrich(context.Background(), rec))
}
