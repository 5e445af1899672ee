package trade

import (
	"time"

	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus mirrors the emission pipeline's outcome on the order so
// the rest of the application never queries the pipeline directly
type InvoiceStatus string

const (
	InvoiceStatusNone      InvoiceStatus = "NONE"
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusIssued    InvoiceStatus = "ISSUED"
	InvoiceStatusDenied    InvoiceStatus = "DENIED"
	InvoiceStatusRejected  InvoiceStatus = "REJECTED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusNone, InvoiceStatusPending, InvoiceStatusIssued,
		InvoiceStatusDenied, InvoiceStatusRejected, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// SalesOrder is the originating business document of an emission. The
// pipeline only reads it and mirrors the invoice status back onto it;
// the order's own commercial lifecycle lives elsewhere.
type SalesOrder struct {
	shared.CompanyAggregateRoot
	OrderNumber   string
	CustomerName  string
	TotalAmount   decimal.Decimal
	InvoiceStatus InvoiceStatus
}

// NewSalesOrder creates an order with no invoice yet
func NewSalesOrder(companyID uuid.UUID, orderNumber, customerName string, totalAmount decimal.Decimal) (*SalesOrder, error) {
	if orderNumber == "" {
		return nil, shared.NewDomainError("INVALID_ORDER_NUMBER", "Order number cannot be empty")
	}
	if totalAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Order total cannot be negative")
	}
	return &SalesOrder{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(companyID),
		OrderNumber:          orderNumber,
		CustomerName:         customerName,
		TotalAmount:          totalAmount,
		InvoiceStatus:        InvoiceStatusNone,
	}, nil
}

// SetInvoiceStatus updates the mirrored invoice status
func (o *SalesOrder) SetInvoiceStatus(status InvoiceStatus) error {
	if !status.IsValid() {
		return shared.ErrInvalidInput
	}
	o.InvoiceStatus = status
	o.UpdatedAt = time.Now()
	return nil
}
