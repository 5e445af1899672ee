package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/desdobra/backend/internal/infrastructure/persistence/models"
)

// GormSalesOrderRepository implements SalesOrderRepository using GORM
type GormSalesOrderRepository struct {
	db *gorm.DB
}

// NewGormSalesOrderRepository creates a new GormSalesOrderRepository
func NewGormSalesOrderRepository(db *gorm.DB) *GormSalesOrderRepository {
	return &GormSalesOrderRepository{db: db}
}

// FindByIDForCompany finds an order by ID within a company
func (r *GormSalesOrderRepository) FindByIDForCompany(ctx context.Context, companyID, id uuid.UUID) (*trade.SalesOrder, error) {
	var model models.SalesOrderModel
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates an order
func (r *GormSalesOrderRepository) Save(ctx context.Context, order *trade.SalesOrder) error {
	model := models.SalesOrderModelFromDomain(order)
	return r.db.WithContext(ctx).Save(model).Error
}

// UpdateInvoiceStatus writes only the mirrored invoice status column
func (r *GormSalesOrderRepository) UpdateInvoiceStatus(ctx context.Context, companyID, id uuid.UUID, status trade.InvoiceStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.SalesOrderModel{}).
		Where("company_id = ? AND id = ?", companyID, id).
		Updates(map[string]interface{}{
			"invoice_status": status,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormSalesOrderRepository implements SalesOrderRepository
var _ trade.SalesOrderRepository = (*GormSalesOrderRepository)(nil)
