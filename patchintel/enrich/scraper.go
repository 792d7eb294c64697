package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/metrics"
	"github.com/SiriusScan/patch-intel/patchintel/normalize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPageBytes = 2 << 20

// headingPhrases maps lower-case heading fragments to the note they
// introduce. Earlier entries win when a heading matches several.
var headingPhrases = []struct {
	phrase string
	field  string
}{
	{"known issue", patchintel.FieldKnownIssues},
	{"end of life", patchintel.FieldEndOfLife},
	{"end-of-life", patchintel.FieldEndOfLife},
	{"end of support", patchintel.FieldEndOfLife},
	{"lifecycle", patchintel.FieldEndOfLife},
	{"reboot", patchintel.FieldRebootRequired},
	{"restart", patchintel.FieldRebootRequired},
	{"performance", patchintel.FieldPerformanceIssues},
	{"crash", patchintel.FieldCrashLikelihood},
	{"stability", patchintel.FieldCrashLikelihood},
}

// Scraper extracts note sections from vendor advisory pages.
type Scraper struct {
	client *http.Client
}

// NewScraper returns a Scraper whose page fetches are bounded by timeout.
func NewScraper(timeout time.Duration) *Scraper {
	return &Scraper{client: &http.Client{Timeout: timeout}}
}

// Scrape fetches pageURL and returns the text found under recognised
// headings.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (Fields, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d from %s", resp.StatusCode, pageURL)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse advisory page: %w", err)
	}
	return extract(doc), nil
}

// Enrich scrapes the record's reference when it is an http(s) URL. Failures
// are logged and yield no fields so the merge leaves the record unchanged.
func (s *Scraper) Enrich(ctx context.Context, rec normalize.Record) Fields {
	ref := rec.Attributes.Reference
	if ref == nil || !isWebURL(*ref) {
		return nil
	}
	fields, err := s.Scrape(ctx, *ref)
	if err != nil {
		metrics.ScrapeFailures.Inc()
		slog.Warn("Advisory scrape failed", "url", *ref, "error", err)
		return nil
	}
	slog.Debug("Scraped advisory page", "url", *ref, "fields", len(fields))
	return fields
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// extract walks the document in order. A heading that matches a phrase opens
// a section; any other heading closes it. Text blocks inside an open section
// are appended to that section's field.
func extract(doc *html.Node) Fields {
	sections := make(map[string][]string)
	var current string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Dt:
				current = matchHeading(textOf(n))
				return
			case atom.P, atom.Li, atom.Dd, atom.Pre, atom.Td:
				if current != "" {
					if t := textOf(n); t != "" {
						sections[current] = append(sections[current], t)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	fields := make(Fields, len(sections))
	for field, parts := range sections {
		fields[field] = strings.Join(parts, "\n")
	}
	return fields
}

func matchHeading(heading string) string {
	lower := strings.ToLower(heading)
	for _, hp := range headingPhrases {
		if strings.Contains(lower, hp.phrase) {
			return hp.field
		}
	}
	return ""
}

// textOf returns the whitespace-collapsed text content of n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
