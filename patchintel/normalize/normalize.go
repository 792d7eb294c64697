// Package normalize turns loosely-typed feed records into the canonical
// patch attribute set, the vulnerability identifiers it fixes and the
// platform it applies to. It has no side effects.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/SiriusScan/patch-intel/patchintel"
)

// ErrMalformedRecord is returned when a raw record cannot be reduced to a
// canonical form.
var ErrMalformedRecord = errors.New("malformed record")

var cvePattern = regexp.MustCompile(`(?i)^cve-\d{4}-\d+$`)

// Attributes are the stored patch columns. A nil pointer means the field was
// absent from the source record.
type Attributes struct {
	Vendor            *string
	Product           *string
	FixedVersion      *string
	Reference         *string
	PerformanceIssues *string
	CrashLikelihood   *string
	RebootRequired    *string
	EndOfLife         *string
	KnownIssues       *string
	Metadata          Metadata
}

// Note returns the free-text note stored under one of patchintel.NoteFields.
func (a *Attributes) Note(field string) *string {
	if p := a.notePtr(field); p != nil {
		return *p
	}
	return nil
}

// SetNote sets the free-text note stored under one of patchintel.NoteFields.
// Unknown field names are ignored.
func (a *Attributes) SetNote(field string, value *string) {
	if p := a.notePtr(field); p != nil {
		*p = value
	}
}

func (a *Attributes) notePtr(field string) **string {
	switch field {
	case patchintel.FieldPerformanceIssues:
		return &a.PerformanceIssues
	case patchintel.FieldCrashLikelihood:
		return &a.CrashLikelihood
	case patchintel.FieldRebootRequired:
		return &a.RebootRequired
	case patchintel.FieldEndOfLife:
		return &a.EndOfLife
	case patchintel.FieldKnownIssues:
		return &a.KnownIssues
	}
	return nil
}

// VulnerabilityRef is one vulnerability referenced by a record. Description
// and Severity are only used when the vulnerability is first created.
type VulnerabilityRef struct {
	Identifier  string
	Description *string
	Severity    *string
}

// Record is the normalized form of one raw record.
type Record struct {
	Attributes      Attributes
	Vulnerabilities []VulnerabilityRef
	Platform        *string
	PlatformNames   PlatformNames
	// Serialized is the canonical form of the whole raw record and the sole
	// deduplication key; Digest is its SHA-256.
	Serialized string
	Digest     string
}

// VulnerabilityIDs returns the identifiers in record order.
func (r Record) VulnerabilityIDs() []string {
	ids := make([]string, 0, len(r.Vulnerabilities))
	for _, v := range r.Vulnerabilities {
		ids = append(ids, v.Identifier)
	}
	return ids
}

// Label is a short human description used in logs and failure reports.
func (r Record) Label() string {
	return fmt.Sprintf("%s %s %s", deref(r.Attributes.Vendor), deref(r.Attributes.Product), deref(r.Attributes.FixedVersion))
}

// Normalize maps a raw record onto a Record. Missing fields are never an
// error; the record is malformed only when it cannot be serialized or a
// referenced vulnerability has an unusable shape.
func Normalize(raw patchintel.RawRecord) (Record, error) {
	if raw == nil {
		return Record{}, fmt.Errorf("%w: record is null", ErrMalformedRecord)
	}

	canonical, err := Canonical(map[string]interface{}(raw))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := checkUTF8(reflect.ValueOf(map[string]interface{}(raw)), "record"); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	generic, err := decodeGeneric(canonical)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	fields, ok := generic.(map[string]interface{})
	if !ok {
		return Record{}, fmt.Errorf("%w: record is not an object", ErrMalformedRecord)
	}

	rec := Record{
		Serialized: string(canonical),
		Digest:     Digest(canonical),
	}

	rec.Attributes = Attributes{
		Vendor:       text(first(fields, patchintel.FieldVendor)),
		Product:      text(first(fields, patchintel.FieldProduct, patchintel.FieldProductName)),
		FixedVersion: text(first(fields, patchintel.FieldFixedVersion)),
		Reference:    text(first(fields, patchintel.FieldReference, patchintel.FieldKBArticle, patchintel.FieldAdvisoryURL)),
		Metadata:     metadata(fields[patchintel.FieldMetadata]),
	}
	for _, field := range patchintel.NoteFields {
		rec.Attributes.SetNote(field, text(fields[field]))
	}

	rec.Vulnerabilities, err = vulnerabilities(fields[patchintel.FieldVulnerabilitiesFixed])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	rec.Platform = text(first(fields, patchintel.FieldPlatformIdentifier, patchintel.FieldCPE))
	if rec.Platform != nil {
		rec.PlatformNames = ParsePlatform(*rec.Platform)
	}

	return rec, nil
}

// first returns the value of the first key present with a non-null value.
func first(fields map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// text renders a generic JSON value as an optional string. Blank strings are
// absent; scalars keep their JSON spelling; composites become canonical JSON.
func text(v interface{}) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case bool:
		if t {
			s = "true"
		} else {
			s = "false"
		}
	default:
		// Already proven serializable by the record-level encode.
		b, _ := Canonical(t)
		s = string(b)
	}
	if s == "" {
		return nil
	}
	return &s
}

func metadata(v interface{}) Metadata {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return Metadata(t)
	default:
		return Metadata{"value": t}
	}
}

func vulnerabilities(v interface{}) ([]VulnerabilityRef, error) {
	var items []interface{}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		items = []interface{}{t}
	case []interface{}:
		items = t
	default:
		return nil, fmt.Errorf("%s must be a list, got %T", patchintel.FieldVulnerabilitiesFixed, v)
	}

	seen := make(map[string]bool, len(items))
	refs := make([]VulnerabilityRef, 0, len(items))
	for i, item := range items {
		var ref VulnerabilityRef
		switch t := item.(type) {
		case string:
			ref.Identifier = canonicalVulnID(t)
		case map[string]interface{}:
			id := text(first(t, "id", "cve", "identifier"))
			if id == nil {
				return nil, fmt.Errorf("%s[%d] has no identifier", patchintel.FieldVulnerabilitiesFixed, i)
			}
			ref.Identifier = canonicalVulnID(*id)
			ref.Description = text(t["description"])
			ref.Severity = text(t["severity"])
		case nil:
			continue
		default:
			return nil, fmt.Errorf("%s[%d] has unsupported type %T", patchintel.FieldVulnerabilitiesFixed, i, item)
		}
		if ref.Identifier == "" || seen[ref.Identifier] {
			continue
		}
		seen[ref.Identifier] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

// canonicalVulnID trims the identifier and upper-cases CVE identifiers so
// "cve-2023-0001" and "CVE-2023-0001" resolve to one vulnerability.
func canonicalVulnID(id string) string {
	id = strings.TrimSpace(id)
	if cvePattern.MatchString(id) {
		return strings.ToUpper(id)
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
