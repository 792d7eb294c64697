package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Trigger asks a worker to run one ingestion.
type Trigger struct {
	// File, when set, is a JSON file on the worker's filesystem ingested
	// instead of the configured feed.
	File        string    `json:"file,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (t Trigger) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeTrigger parses a trigger message. An empty body is a plain feed
// trigger.
func DecodeTrigger(msg string) (Trigger, error) {
	var t Trigger
	if strings.TrimSpace(msg) == "" {
		return t, nil
	}
	if err := json.Unmarshal([]byte(msg), &t); err != nil {
		return t, fmt.Errorf("invalid trigger message: %w", err)
	}
	return t, nil
}
