package ingest

import "errors"

var (
	// ErrStoreUnavailable aborts a run before any record is processed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStorageFailure wraps an unexpected persistence error for one record.
	ErrStorageFailure = errors.New("storage failure")
)

// Reason classifies a per-record failure.
type Reason string

const (
	ReasonMalformedRecord Reason = "malformed_record"
	ReasonStorageFailure  Reason = "storage_failure"
	// ReasonNotProcessed marks records left untouched because the run was
	// cancelled before reaching them.
	ReasonNotProcessed Reason = "not_processed"
)
