package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/normalize"
)

// Failure is one record that was neither inserted nor skipped.
type Failure struct {
	// Index is the record's position in the batch.
	Index  int
	Record patchintel.RawRecord
	Reason Reason
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("record %d: %s: %v", f.Index, f.Reason, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report is the immutable outcome of one ingestion run. Every record of the
// batch is counted exactly once as inserted, skipped or failed.
type Report struct {
	total      int
	inserted   int
	skipped    int
	failures   []Failure
	startedAt  time.Time
	finishedAt time.Time
}

func (r Report) Total() int    { return r.total }
func (r Report) Inserted() int { return r.inserted }
func (r Report) Skipped() int  { return r.skipped }
func (r Report) Failed() int   { return len(r.failures) }

// Failures returns the failures in batch order. The slice is a copy.
func (r Report) Failures() []Failure {
	out := make([]Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

func (r Report) StartedAt() time.Time  { return r.startedAt }
func (r Report) FinishedAt() time.Time { return r.finishedAt }

func (r Report) Duration() time.Duration {
	return r.finishedAt.Sub(r.startedAt)
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total=%d inserted=%d skipped=%d failed=%d duration=%s",
		r.total, r.inserted, r.skipped, len(r.failures), r.Duration().Round(time.Millisecond))
	for _, f := range r.failures {
		fmt.Fprintf(&b, "\n  %s", f.Error())
	}
	return b.String()
}

// Summary is the serializable form of a Report kept in run history.
type Summary struct {
	RunID      string           `json:"run_id"`
	Total      int              `json:"total"`
	Inserted   int              `json:"inserted"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Failures   []FailureSummary `json:"failures"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	DurationMs int64            `json:"duration_ms"`
}

type FailureSummary struct {
	Index  int    `json:"index"`
	Reason Reason `json:"reason"`
	Error  string `json:"error"`
	// Record is the raw record in canonical JSON, or a Go rendering when the
	// record cannot be encoded.
	Record string `json:"record"`
}

// Summary renders the report for storage and display. runID is attached as
// given.
func (r Report) Summary(runID string) Summary {
	s := Summary{
		RunID:      runID,
		Total:      r.total,
		Inserted:   r.inserted,
		Skipped:    r.skipped,
		Failed:     len(r.failures),
		Failures:   make([]FailureSummary, 0, len(r.failures)),
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}
	for _, f := range r.failures {
		s.Failures = append(s.Failures, FailureSummary{
			Index:  f.Index,
			Reason: f.Reason,
			Error:  f.Err.Error(),
			Record: renderRecord(f.Record),
		})
	}
	return s
}

func renderRecord(raw patchintel.RawRecord) string {
	if raw == nil {
		return "null"
	}
	if b, err := normalize.Canonical(map[string]interface{}(raw)); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", map[string]interface{}(raw))
}

// reportBuilder accumulates outcomes during a run.
type reportBuilder struct {
	r Report
}

func newReportBuilder(total int) *reportBuilder {
	return &reportBuilder{r: Report{total: total, startedAt: time.Now().UTC()}}
}

func (b *reportBuilder) inserted() { b.r.inserted++ }
func (b *reportBuilder) skipped()  { b.r.skipped++ }

func (b *reportBuilder) fail(index int, raw patchintel.RawRecord, reason Reason, err error) {
	b.r.failures = append(b.r.failures, Failure{
		Index:  index,
		Record: copyRecord(raw),
		Reason: reason,
		Err:    err,
	})
}

func (b *reportBuilder) finish() Report {
	b.r.finishedAt = time.Now().UTC()
	r := b.r
	b.r = Report{}
	return r
}

func copyRecord(raw patchintel.RawRecord) patchintel.RawRecord {
	if raw == nil {
		return nil
	}
	out := make(patchintel.RawRecord, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
