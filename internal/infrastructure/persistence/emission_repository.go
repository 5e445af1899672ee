package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/infrastructure/persistence/models"
)

// GormEmissionRepository implements EmissionRepository using GORM
type GormEmissionRepository struct {
	db *gorm.DB
}

// NewGormEmissionRepository creates a new GormEmissionRepository
func NewGormEmissionRepository(db *gorm.DB) *GormEmissionRepository {
	return &GormEmissionRepository{db: db}
}

// FindByID finds an emission by its canonical ID
func (r *GormEmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*fiscal.Emission, error) {
	var model models.EmissionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByCompanyAndKey finds the canonical record for the pair
func (r *GormEmissionRepository) FindByCompanyAndKey(ctx context.Context, companyID uuid.UUID, accessKey string) (*fiscal.Emission, error) {
	var model models.EmissionModel
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND access_key = ?", companyID, accessKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrder finds the emission linked to a business document
func (r *GormEmissionRepository) FindByOrder(ctx context.Context, companyID, orderID uuid.UUID) (*fiscal.Emission, error) {
	var model models.EmissionModel
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND order_id = ?", companyID, orderID).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save persists a new or updated emission
func (r *GormEmissionRepository) Save(ctx context.Context, emission *fiscal.Emission) error {
	model := models.EmissionModelFromDomain(emission)
	return r.db.WithContext(ctx).Save(model).Error
}

// Upsert inserts the emission, surfacing a (company_id, access_key)
// conflict as shared.ErrAlreadyExists instead of overwriting the row
// that won the race.
func (r *GormEmissionRepository) Upsert(ctx context.Context, emission *fiscal.Emission) error {
	model := models.EmissionModelFromDomain(emission)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "access_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// Ensure GormEmissionRepository implements EmissionRepository
var _ fiscal.EmissionRepository = (*GormEmissionRepository)(nil)
