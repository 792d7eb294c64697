package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const windowsJSON = `{"vendor":"Microsoft","product":"Windows 10","fixed_version":"22H2","vulnerabilities_fixed":["CVE-2023-21768","CVE-2023-0001"],"platform_identifier":"cpe:/o:microsoft:windows_10:22h2","metadata":{"cvss":7.80}}`

func testClient(url string, retries int) *Client {
	return NewClient(Config{
		URL:             url,
		Token:           "s3cret",
		Timeout:         2 * time.Second,
		Retries:         retries,
		InitialInterval: time.Millisecond,
	})
}

func TestFetchPayloadShapes(t *testing.T) {
	bodies := map[string]string{
		"array":   `[` + windowsJSON + `]`,
		"patches": `{"patches":[` + windowsJSON + `]}`,
		"nested":  `{"data":{"items":[` + windowsJSON + `]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			records, err := testClient(srv.URL, 0).Fetch(context.Background())
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "Microsoft", records[0]["vendor"])
			meta := records[0]["metadata"].(map[string]interface{})
			assert.Equal(t, json.Number("7.80"), meta["cvss"])
		})
	}
}

func TestFetchEmptyFeedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	records, err := testClient(srv.URL, 0).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[` + windowsJSON + `]`))
	}))
	defer srv.Close()

	records, err := testClient(srv.URL, 3).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailure)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchClientErrorsArePermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailure)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchMalformedBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"patches": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailure)
	assert.Contains(t, err.Error(), "malformed body")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond, Retries: 5, InitialInterval: time.Millisecond})
	start := time.Now()
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchWithoutURL(t *testing.T) {
	_, err := NewClient(Config{}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailure)
}

func TestDecode(t *testing.T) {
	records, err := Decode(strings.NewReader(`[{"vendor":"a"}, null]`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Nil(t, records[1])

	records, err = Decode(strings.NewReader(`null`))
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = Decode(strings.NewReader(`["CVE-2023-0001"]`))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`{"unexpected":[]}`))
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"records":[`+windowsJSON+`]}`), 0o600))

	records, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrFetchFailure)
}
