package trade

import (
	"context"

	"github.com/google/uuid"
)

// SalesOrderRepository persists orders as far as the emission pipeline
// needs them
type SalesOrderRepository interface {
	FindByIDForCompany(ctx context.Context, companyID, id uuid.UUID) (*SalesOrder, error)
	Save(ctx context.Context, order *SalesOrder) error
	// UpdateInvoiceStatus writes only the mirrored invoice status. The
	// mirror is eventually consistent; a failure here never rolls back
	// the emission.
	UpdateInvoiceStatus(ctx context.Context, companyID, id uuid.UUID, status InvoiceStatus) error
}
