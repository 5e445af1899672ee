package fiscal

import (
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event types published by the emission pipeline
const (
	EventEmissionStatusChanged = "fiscal.emission.status_changed"
)

// EmissionStatusChanged is published after every emission state
// transition. The trade context listens to it to mirror the invoice
// status on the originating order; delivery is best-effort and never
// affects the emission's own durability.
type EmissionStatusChanged struct {
	shared.BaseDomainEvent
	AccessKey      string         `json:"access_key"`
	OrderID        *uuid.UUID     `json:"order_id,omitempty"`
	PreviousStatus EmissionStatus `json:"previous_status"`
	NewStatus      EmissionStatus `json:"new_status"`
	ResponseCode   int            `json:"response_code"`
	Message        string         `json:"message"`
}

// NewEmissionStatusChanged creates the status-changed event from the
// emission's current state
func NewEmissionStatusChanged(e *Emission, previous EmissionStatus) *EmissionStatusChanged {
	return &EmissionStatusChanged{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventEmissionStatusChanged, "Emission", e.ID, e.CompanyID),
		AccessKey:       e.AccessKey,
		OrderID:         e.OrderID,
		PreviousStatus:  previous,
		NewStatus:       e.Status,
		ResponseCode:    e.ResponseCode,
		Message:         e.ResponseMessage,
	}
}
