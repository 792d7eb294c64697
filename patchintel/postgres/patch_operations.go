package postgres

import (
	"context"
	"strings"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"gorm.io/gorm"
)

func preloadRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Vulnerabilities", func(db *gorm.DB) *gorm.DB { return db.Order("vulnerabilities.identifier") }).
		Preload("Platforms", func(db *gorm.DB) *gorm.DB { return db.Order("platform_identifiers.identifier") })
}

// GetPatch returns one patch with its vulnerabilities and platforms. A
// missing row surfaces as gorm.ErrRecordNotFound.
func GetPatch(ctx context.Context, db *gorm.DB, id uint) (models.Patch, error) {
	var patch models.Patch
	result := preloadRelations(db.WithContext(ctx)).First(&patch, id)
	if result.Error != nil {
		return models.Patch{}, result.Error
	}
	return patch, nil
}

func GetAllPatches(ctx context.Context, db *gorm.DB) ([]models.Patch, error) {
	var patches []models.Patch
	result := preloadRelations(db.WithContext(ctx)).Order("patches.id").Find(&patches)
	if result.Error != nil {
		return nil, result.Error
	}
	return patches, nil
}

// SearchPatches matches term as a case-insensitive substring of vendor or
// product.
func SearchPatches(ctx context.Context, db *gorm.DB, term string) ([]models.Patch, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"

	var patches []models.Patch
	result := preloadRelations(db.WithContext(ctx)).
		Where(`LOWER(patches.vendor) LIKE ? ESCAPE '\' OR LOWER(patches.product) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("patches.id").
		Find(&patches)
	if result.Error != nil {
		return nil, result.Error
	}
	return patches, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
