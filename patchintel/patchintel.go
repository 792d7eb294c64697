package patchintel

import "time"

// RawRecord is one patch record as delivered by the upstream feed, already
// unwrapped to the flat patch-record shape. Every key is optional.
type RawRecord map[string]interface{}

// Field names understood in a RawRecord.
const (
	FieldVendor               = "vendor"
	FieldProduct              = "product"
	FieldProductName          = "product_name"
	FieldFixedVersion         = "fixed_version"
	FieldReference            = "reference"
	FieldKBArticle            = "kb_article"
	FieldAdvisoryURL          = "advisory_url"
	FieldPerformanceIssues    = "performance_issues"
	FieldCrashLikelihood      = "crash_likelihood"
	FieldRebootRequired       = "reboot_required"
	FieldEndOfLife            = "end_of_life"
	FieldKnownIssues          = "known_issues"
	FieldMetadata             = "metadata"
	FieldVulnerabilitiesFixed = "vulnerabilities_fixed"
	FieldPlatformIdentifier   = "platform_identifier"
	FieldCPE                  = "cpe"
)

// NoteFields lists the free-text operational note attributes of a patch, in
// the order they are presented to clients.
var NoteFields = []string{
	FieldPerformanceIssues,
	FieldCrashLikelihood,
	FieldRebootRequired,
	FieldEndOfLife,
	FieldKnownIssues,
}

// ========================= Patch =========================

// Patch is the client-facing projection of a stored patch.
type Patch struct {
	ID                uint                   `json:"id"`
	Vendor            *string                `json:"vendor"`
	Product           *string                `json:"product"`
	FixedVersion      *string                `json:"fixed_version"`
	Reference         *string                `json:"reference"`
	PerformanceIssues *string                `json:"performance_issues"`
	CrashLikelihood   *string                `json:"crash_likelihood"`
	RebootRequired    *string                `json:"reboot_required"`
	EndOfLife         *string                `json:"end_of_life"`
	KnownIssues       *string                `json:"known_issues"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Vulnerabilities   []string               `json:"vulnerabilities"`
	Platforms         []string               `json:"platforms"`
	CreatedAt         time.Time              `json:"created_at"`
}

// ========================= Vulnerability =========================

type Vulnerability struct {
	Identifier  string  `json:"identifier"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty"`
}

// ========================= Platform =========================

type Platform struct {
	Identifier string  `json:"identifier"`
	Vendor     *string `json:"vendor,omitempty"`
	Product    *string `json:"product,omitempty"`
}
