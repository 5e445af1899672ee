package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/infrastructure/persistence/models"
)

// GormLegacyEmissionRepository reads the pre-migration emission table.
// Every query is scoped to an explicit company set; the table predates
// the uniqueness constraint, so callers must expect duplicates.
type GormLegacyEmissionRepository struct {
	db *gorm.DB
}

// NewGormLegacyEmissionRepository creates a new GormLegacyEmissionRepository
func NewGormLegacyEmissionRepository(db *gorm.DB) *GormLegacyEmissionRepository {
	return &GormLegacyEmissionRepository{db: db}
}

// FindByAccessKey finds legacy records for the key within the given company set
func (r *GormLegacyEmissionRepository) FindByAccessKey(ctx context.Context, companyIDs []uuid.UUID, accessKey string) ([]fiscal.LegacyEmission, error) {
	if len(companyIDs) == 0 {
		return []fiscal.LegacyEmission{}, nil
	}

	var legacyModels []models.LegacyEmissionModel
	if err := r.db.WithContext(ctx).
		Where("company_id IN ? AND access_key = ?", companyIDs, accessKey).
		Order("created_at DESC").
		Find(&legacyModels).Error; err != nil {
		return nil, err
	}

	records := make([]fiscal.LegacyEmission, len(legacyModels))
	for i, model := range legacyModels {
		records[i] = *model.ToDomain()
	}
	return records, nil
}

// FindByOrder finds the legacy record attached to an order
func (r *GormLegacyEmissionRepository) FindByOrder(ctx context.Context, companyIDs []uuid.UUID, orderID uuid.UUID) (*fiscal.LegacyEmission, error) {
	if len(companyIDs) == 0 {
		return nil, shared.ErrNotFound
	}

	var model models.LegacyEmissionModel
	if err := r.db.WithContext(ctx).
		Where("company_id IN ? AND order_id = ?", companyIDs, orderID).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByID finds a legacy record by its own identifier
func (r *GormLegacyEmissionRepository) FindByID(ctx context.Context, companyIDs []uuid.UUID, id uuid.UUID) (*fiscal.LegacyEmission, error) {
	if len(companyIDs) == 0 {
		return nil, shared.ErrNotFound
	}

	var model models.LegacyEmissionModel
	if err := r.db.WithContext(ctx).
		Where("company_id IN ? AND id = ?", companyIDs, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Ensure GormLegacyEmissionRepository implements LegacyEmissionRepository
var _ fiscal.LegacyEmissionRepository = (*GormLegacyEmissionRepository)(nil)
