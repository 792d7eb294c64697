package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateKey reports that an insert lost a unique-constraint race.
var ErrDuplicateKey = errors.New("duplicate key")

// EntityStore is the per-entity find / insert / link surface used by
// ingestion. Finds return (nil, nil) when no row matches. Inserts fail with
// ErrDuplicateKey when the unique key already exists. Links are idempotent.
type EntityStore interface {
	FindPatch(ctx context.Context, digest string) (*models.Patch, error)
	InsertPatch(ctx context.Context, patch *models.Patch) error
	FindVulnerability(ctx context.Context, identifier string) (*models.Vulnerability, error)
	InsertVulnerability(ctx context.Context, vuln *models.Vulnerability) error
	FindPlatform(ctx context.Context, identifier string) (*models.PlatformIdentifier, error)
	InsertPlatform(ctx context.Context, platform *models.PlatformIdentifier) error
	LinkVulnerability(ctx context.Context, patchID, vulnerabilityID uint) error
	LinkPlatform(ctx context.Context, patchID, platformID uint) error
}

// Store is an EntityStore that can also scope work to one transaction.
type Store interface {
	EntityStore
	Ping(ctx context.Context) error
	WithinTransaction(ctx context.Context, fn func(tx EntityStore) error) error
}

// Repository provides explicit database operations for patches and the
// entities they reference.
type Repository struct {
	db   *gorm.DB
	inTx bool
}

// NewRepository creates a Repository over an open database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("database connection not available")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithinTransaction runs fn against a repository bound to one transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) WithinTransaction(ctx context.Context, fn func(tx EntityStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, inTx: true})
	})
}

// FindPatch looks a patch up by the digest of its canonical form.
func (r *Repository) FindPatch(ctx context.Context, digest string) (*models.Patch, error) {
	var patch models.Patch
	err := r.db.WithContext(ctx).Where("serialized_digest = ?", digest).First(&patch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up patch: %w", err)
	}
	return &patch, nil
}

func (r *Repository) InsertPatch(ctx context.Context, patch *models.Patch) error {
	return r.insert(ctx, "insert_patch", patch)
}

func (r *Repository) FindVulnerability(ctx context.Context, identifier string) (*models.Vulnerability, error) {
	var vuln models.Vulnerability
	err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&vuln).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up vulnerability %s: %w", identifier, err)
	}
	return &vuln, nil
}

func (r *Repository) InsertVulnerability(ctx context.Context, vuln *models.Vulnerability) error {
	return r.insert(ctx, "insert_vulnerability", vuln)
}

func (r *Repository) FindPlatform(ctx context.Context, identifier string) (*models.PlatformIdentifier, error) {
	var platform models.PlatformIdentifier
	err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&platform).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up platform %s: %w", identifier, err)
	}
	return &platform, nil
}

func (r *Repository) InsertPlatform(ctx context.Context, platform *models.PlatformIdentifier) error {
	return r.insert(ctx, "insert_platform", platform)
}

// LinkVulnerability records that a patch fixes a vulnerability. Re-linking
// an existing pair is a no-op.
func (r *Repository) LinkVulnerability(ctx context.Context, patchID, vulnerabilityID uint) error {
	link := models.PatchVulnerability{PatchID: patchID, VulnerabilityID: vulnerabilityID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link patch %d to vulnerability %d: %w", patchID, vulnerabilityID, err)
	}
	return nil
}

// LinkPlatform records that a patch applies to a platform. Re-linking an
// existing pair is a no-op.
func (r *Repository) LinkPlatform(ctx context.Context, patchID, platformID uint) error {
	link := models.PatchPlatform{PatchID: patchID, PlatformIdentifierID: platformID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link patch %d to platform %d: %w", patchID, platformID, err)
	}
	return nil
}

// insert creates one row. Inside a transaction the insert is fenced by a
// savepoint so a unique violation leaves the transaction usable on engines
// that abort on error.
func (r *Repository) insert(ctx context.Context, savepoint string, value interface{}) error {
	db := r.db.WithContext(ctx)
	if r.inTx {
		if err := db.SavePoint(savepoint).Error; err != nil {
			return fmt.Errorf("failed to create savepoint: %w", err)
		}
	}

	err := db.Omit(clause.Associations).Create(value).Error
	if err == nil {
		return nil
	}

	if r.inTx {
		if rbErr := db.RollbackTo(savepoint).Error; rbErr != nil {
			return fmt.Errorf("failed to roll back to savepoint after %v: %w", err, rbErr)
		}
	}
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// VulnerabilitiesMissingDetails returns up to limit vulnerabilities whose
// description or severity has never been set.
func (r *Repository) VulnerabilitiesMissingDetails(ctx context.Context, limit int) ([]models.Vulnerability, error) {
	var vulns []models.Vulnerability
	query := r.db.WithContext(ctx).
		Where("description IS NULL OR severity IS NULL").
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&vulns).Error; err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	return vulns, nil
}

// FillVulnerabilityDetails sets description and severity only where they are
// still unset; existing values are never overwritten.
func (r *Repository) FillVulnerabilityDetails(ctx context.Context, id uint, description, severity *string) error {
	db := r.db.WithContext(ctx)
	if description != nil {
		err := db.Model(&models.Vulnerability{}).
			Where("id = ? AND description IS NULL", id).
			Update("description", *description).Error
		if err != nil {
			return fmt.Errorf("failed to update vulnerability %d description: %w", id, err)
		}
	}
	if severity != nil {
		err := db.Model(&models.Vulnerability{}).
			Where("id = ? AND severity IS NULL", id).
			Update("severity", *severity).Error
		if err != nil {
			return fmt.Errorf("failed to update vulnerability %d severity: %w", id, err)
		}
	}
	return nil
}
