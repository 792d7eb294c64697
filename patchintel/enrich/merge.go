// Package enrich fills free-text patch notes from supplementary sources such
// as the vendor advisory page a record references.
package enrich

import (
	"strings"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/normalize"
)

// Fields are supplementary values keyed by patch note field name
// (patchintel.NoteFields). Keys outside that set are ignored.
type Fields map[string]string

// Merge returns attrs with every absent note filled from fields. Values
// already present on attrs always win, and a nil or empty Fields is a no-op.
func Merge(attrs normalize.Attributes, fields Fields) normalize.Attributes {
	if len(fields) == 0 {
		return attrs
	}
	for _, field := range patchintel.NoteFields {
		if attrs.Note(field) != nil {
			continue
		}
		value := strings.TrimSpace(fields[field])
		if value == "" {
			continue
		}
		attrs.SetNote(field, &value)
	}
	return attrs
}
