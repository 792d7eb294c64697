// Package feed fetches raw patch records from the upstream patch
// intelligence API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/metrics"
	"github.com/cenkalti/backoff"
)

var (
	ErrFetchFailure = errors.New("fetch failed")
	ErrTimeout      = errors.New("fetch timed out")
)

// wrapperKeys are the top-level object keys under which upstream responses
// carry the record array, tried in order.
var wrapperKeys = []string{"patches", "data", "results", "items", "records"}

const maxBodyBytes = 64 << 20

type Config struct {
	URL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds the whole fetch, retries included.
	Timeout time.Duration
	// Retries is the number of additional attempts after a retryable failure.
	Retries         int
	InitialInterval time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

// Fetch performs one logical GET against the feed URL. Transport errors and
// 5xx/429 responses are retried with exponential backoff; other statuses and
// undecodable bodies fail immediately. An empty result is not an error.
func (c *Client) Fetch(ctx context.Context) ([]patchintel.RawRecord, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("%w: no feed URL configured", ErrFetchFailure)
	}

	start := time.Now()
	defer func() { metrics.FeedFetchDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	var records []patchintel.RawRecord
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		records, err = c.fetchOnce(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.Retries)), ctx), func(err error, next time.Duration) {
		slog.Warn("Feed fetch failed, retrying", "url", c.cfg.URL, "attempt", attempt, "error", err, "backoff", next)
	})
	if err != nil {
		metrics.FeedFetchFailures.Inc()
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.cfg.Timeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}

	slog.Info("Fetched patch feed", "url", c.cfg.URL, "records", len(records), "attempts", attempt)
	return records, nil
}

func (c *Client) fetchOnce(ctx context.Context) ([]patchintel.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused between attempts.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("received status code %d from feed", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	records, err := Decode(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	return records, nil
}

// ReadFile decodes records from a local JSON file in any shape the feed
// accepts.
func ReadFile(path string) ([]patchintel.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailure, path, err)
	}
	return records, nil
}

// Decode parses a feed payload: either a top-level array of records or an
// object holding that array under one of the known wrapper keys, possibly
// nested once more. Numbers are kept as json.Number so re-encoding
// reproduces their original spelling. A JSON null element yields a nil
// record for the normalizer to reject.
func Decode(r io.Reader) ([]patchintel.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed body: %w", err)
	}

	items, err := unwrap(payload, 2)
	if err != nil {
		return nil, err
	}

	records := make([]patchintel.RawRecord, 0, len(items))
	for i, item := range items {
		switch t := item.(type) {
		case nil:
			records = append(records, nil)
		case map[string]interface{}:
			records = append(records, patchintel.RawRecord(t))
		default:
			return nil, fmt.Errorf("malformed body: element %d is %T, not an object", i, item)
		}
	}
	return records, nil
}

func unwrap(payload interface{}, depth int) ([]interface{}, error) {
	switch t := payload.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return t, nil
	case map[string]interface{}:
		if depth == 0 {
			break
		}
		for _, key := range wrapperKeys {
			if inner, ok := t[key]; ok {
				return unwrap(inner, depth-1)
			}
		}
	}
	return nil, fmt.Errorf("malformed body: no record array found in %T payload", payload)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
