package patch

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/SiriusScan/patch-intel/patchintel"
	"github.com/SiriusScan/patch-intel/patchintel/postgres"
	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no patch has the requested id.
	ErrNotFound = errors.New("patch not found")
	// ErrEmptySearchTerm is returned when a search is requested without a term.
	ErrEmptySearchTerm = errors.New("search term is required")
)

// Service is the read surface over stored patches.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetPatch(ctx context.Context, id uint) (patchintel.Patch, error) {
	dbPatch, err := postgres.GetPatch(ctx, s.db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return patchintel.Patch{}, ErrNotFound
	}
	if err != nil {
		return patchintel.Patch{}, err
	}
	return MapDBPatchToPatch(dbPatch), nil
}

func (s *Service) GetAllPatches(ctx context.Context) ([]patchintel.Patch, error) {
	dbPatches, err := postgres.GetAllPatches(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return mapPatches(dbPatches), nil
}

// SearchPatches returns patches whose vendor or product contains term,
// ignoring case.
func (s *Service) SearchPatches(ctx context.Context, term string) ([]patchintel.Patch, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrEmptySearchTerm
	}
	dbPatches, err := postgres.SearchPatches(ctx, s.db, term)
	if err != nil {
		return nil, err
	}
	return mapPatches(dbPatches), nil
}

func mapPatches(dbPatches []models.Patch) []patchintel.Patch {
	patches := make([]patchintel.Patch, 0, len(dbPatches))
	for _, p := range dbPatches {
		patches = append(patches, MapDBPatchToPatch(p))
	}
	return patches
}

// MapDBPatchToPatch projects a stored patch onto the client view. Related
// identifiers are returned sorted and without repeats.
func MapDBPatchToPatch(dbPatch models.Patch) patchintel.Patch {
	vulns := make([]string, 0, len(dbPatch.Vulnerabilities))
	for _, v := range dbPatch.Vulnerabilities {
		vulns = append(vulns, v.Identifier)
	}
	platforms := make([]string, 0, len(dbPatch.Platforms))
	for _, p := range dbPatch.Platforms {
		platforms = append(platforms, p.Identifier)
	}
	slices.Sort(vulns)
	slices.Sort(platforms)

	var metadata map[string]interface{}
	if dbPatch.Metadata != nil {
		metadata = map[string]interface{}(dbPatch.Metadata)
	}

	return patchintel.Patch{
		ID:                dbPatch.ID,
		Vendor:            dbPatch.Vendor,
		Product:           dbPatch.Product,
		FixedVersion:      dbPatch.FixedVersion,
		Reference:         dbPatch.Reference,
		PerformanceIssues: dbPatch.PerformanceIssues,
		CrashLikelihood:   dbPatch.CrashLikelihood,
		RebootRequired:    dbPatch.RebootRequired,
		EndOfLife:         dbPatch.EndOfLife,
		KnownIssues:       dbPatch.KnownIssues,
		Metadata:          metadata,
		Vulnerabilities:   slices.Compact(vulns),
		Platforms:         slices.Compact(platforms),
		CreatedAt:         dbPatch.CreatedAt,
	}
}
