package models

import (
	"time"

	"gorm.io/datatypes"
)

// Patch is one observed fix for one product version. Rows are created once
// per distinct canonical record and never updated.
type Patch struct {
	ID                uint    `gorm:"primaryKey"`
	Vendor            *string `gorm:"size:255;index"`
	Product           *string `gorm:"size:255;index"`
	FixedVersion      *string `gorm:"size:255"`
	Reference         *string `gorm:"type:text"`
	PerformanceIssues *string `gorm:"type:text"`
	CrashLikelihood   *string `gorm:"type:text"`
	RebootRequired    *string `gorm:"type:text"`
	EndOfLife         *string `gorm:"type:text"`
	KnownIssues       *string `gorm:"type:text"`
	Metadata          datatypes.JSONMap
	// Serialized is the canonical form of the source record; SerializedDigest
	// is its SHA-256 and carries the uniqueness constraint.
	Serialized       string `gorm:"type:text;not null"`
	SerializedDigest string `gorm:"size:64;not null;uniqueIndex:idx_patches_serialized_digest"`
	CreatedAt        time.Time

	Vulnerabilities []Vulnerability      `gorm:"many2many:patch_vulnerabilities"`
	Platforms       []PlatformIdentifier `gorm:"many2many:patch_platforms"`
}

func (Patch) TableName() string {
	return "patches"
}

// Vulnerability is a CVE or project-local security issue identifier.
type Vulnerability struct {
	ID          uint    `gorm:"primaryKey"`
	Identifier  string  `gorm:"size:255;not null;uniqueIndex:idx_vulnerabilities_identifier"`
	Description *string `gorm:"type:text"`
	Severity    *string `gorm:"size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Vulnerability) TableName() string {
	return "vulnerabilities"
}

// PlatformIdentifier is a CPE-like string naming an affected platform.
type PlatformIdentifier struct {
	ID         uint    `gorm:"primaryKey"`
	Identifier string  `gorm:"size:512;not null;uniqueIndex:idx_platform_identifiers_identifier"`
	Vendor     *string `gorm:"size:255"`
	Product    *string `gorm:"size:255"`
	CreatedAt  time.Time
}

func (PlatformIdentifier) TableName() string {
	return "platform_identifiers"
}

// PatchVulnerability is the patch_vulnerabilities junction row. The composite
// primary key makes each (patch, vulnerability) pair unique.
type PatchVulnerability struct {
	PatchID         uint `gorm:"primaryKey"`
	VulnerabilityID uint `gorm:"primaryKey"`
	CreatedAt       time.Time
}

func (PatchVulnerability) TableName() string {
	return "patch_vulnerabilities"
}

// PatchPlatform is the patch_platforms junction row.
type PatchPlatform struct {
	PatchID              uint `gorm:"primaryKey"`
	PlatformIdentifierID uint `gorm:"primaryKey"`
	CreatedAt            time.Time
}

func (PatchPlatform) TableName() string {
	return "patch_platforms"
}
