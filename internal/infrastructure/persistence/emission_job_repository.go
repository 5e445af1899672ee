package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/infrastructure/persistence/models"
)

// GormEmissionJobRepository implements EmissionJobRepository using GORM
type GormEmissionJobRepository struct {
	db *gorm.DB
}

// NewGormEmissionJobRepository creates a new GormEmissionJobRepository
func NewGormEmissionJobRepository(db *gorm.DB) *GormEmissionJobRepository {
	return &GormEmissionJobRepository{db: db}
}

// Save persists a new or updated job
func (r *GormEmissionJobRepository) Save(ctx context.Context, job *fiscal.EmissionJob) error {
	model := models.EmissionJobModelFromDomain(job)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a job by its ID
func (r *GormEmissionJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*fiscal.EmissionJob, error) {
	var model models.EmissionJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Claim transitions a pending job to processing with a single guarded
// update. Two consumers racing for the same row leave exactly one with
// the claim; the loser sees shared.ErrNotFound.
func (r *GormEmissionJobRepository) Claim(ctx context.Context, id uuid.UUID) (*fiscal.EmissionJob, error) {
	result := r.db.WithContext(ctx).
		Model(&models.EmissionJobModel{}).
		Where("id = ? AND status = ?", id, fiscal.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     fiscal.JobStatusProcessing,
			"last_error": "",
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, shared.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// FindPending lists pending jobs for worker pickup, oldest first
func (r *GormEmissionJobRepository) FindPending(ctx context.Context, limit int) ([]fiscal.EmissionJob, error) {
	var jobModels []models.EmissionJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", fiscal.JobStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]fiscal.EmissionJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs, nil
}

// Ensure GormEmissionJobRepository implements EmissionJobRepository
var _ fiscal.EmissionJobRepository = (*GormEmissionJobRepository)(nil)
