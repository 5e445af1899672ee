package trade

import (
	"context"
	"fmt"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/domain/trade"
	"go.uber.org/zap"
)

// EmissionStatusHandler mirrors fiscal emission transitions onto the
// originating sales order. The mirror is convenience state for lists
// and dashboards; the emission record stays the source of truth, so a
// failed mirror is logged and retried on the next transition rather
// than failing the emission.
type EmissionStatusHandler struct {
	orderRepo trade.SalesOrderRepository
	logger    *zap.Logger
}

// NewEmissionStatusHandler creates a new handler for emission status events
func NewEmissionStatusHandler(orderRepo trade.SalesOrderRepository, logger *zap.Logger) *EmissionStatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmissionStatusHandler{
		orderRepo: orderRepo,
		logger:    logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *EmissionStatusHandler) EventTypes() []string {
	return []string{fiscal.EventEmissionStatusChanged}
}

// Handle processes an EmissionStatusChanged event by updating the
// invoice status of the linked order
func (h *EmissionStatusHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	statusEvent, ok := event.(*fiscal.EmissionStatusChanged)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", fiscal.EventEmissionStatusChanged),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			fiscal.EventEmissionStatusChanged, event.EventType())
	}

	if statusEvent.OrderID == nil {
		// Standalone emission with no originating order; nothing to mirror.
		return nil
	}

	invoiceStatus, ok := invoiceStatusFor(statusEvent.NewStatus)
	if !ok {
		h.logger.Warn("emission status has no order mirror, skipping",
			zap.String("emission_status", statusEvent.NewStatus.String()),
			zap.String("order_id", statusEvent.OrderID.String()),
		)
		return nil
	}

	if err := h.orderRepo.UpdateInvoiceStatus(ctx, statusEvent.CompanyID(), *statusEvent.OrderID, invoiceStatus); err != nil {
		h.logger.Error("failed to mirror emission status onto order",
			zap.String("order_id", statusEvent.OrderID.String()),
			zap.String("access_key", statusEvent.AccessKey),
			zap.String("invoice_status", invoiceStatus.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mirror emission status: %w", err)
	}

	h.logger.Info("order invoice status mirrored",
		zap.String("order_id", statusEvent.OrderID.String()),
		zap.String("access_key", statusEvent.AccessKey),
		zap.String("previous", statusEvent.PreviousStatus.String()),
		zap.String("invoice_status", invoiceStatus.String()),
	)
	return nil
}

// invoiceStatusFor maps emission states to the order-side mirror
func invoiceStatusFor(status fiscal.EmissionStatus) (trade.InvoiceStatus, bool) {
	switch status {
	case fiscal.EmissionStatusProcessing:
		return trade.InvoiceStatusPending, true
	case fiscal.EmissionStatusAuthorized:
		return trade.InvoiceStatusIssued, true
	case fiscal.EmissionStatusDenied:
		return trade.InvoiceStatusDenied, true
	case fiscal.EmissionStatusRejected:
		return trade.InvoiceStatusRejected, true
	case fiscal.EmissionStatusCancelled:
		return trade.InvoiceStatusCancelled, true
	default:
		return "", false
	}
}

// Ensure EmissionStatusHandler implements shared.EventHandler
var _ shared.EventHandler = (*EmissionStatusHandler)(nil)
