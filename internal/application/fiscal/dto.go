package fiscal

import (
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/google/uuid"
)

// Draft is the locally built, still unsigned document produced by the
// drafter collaborator. The payload is opaque to the pipeline.
type Draft struct {
	AccessKey      string
	Series         int
	SequenceNumber int64
	Payload        []byte
}

// AuthorizeRequest asks the pipeline to authorize the document of an order
type AuthorizeRequest struct {
	CompanyID   uuid.UUID
	OrderID     uuid.UUID
	Environment fiscal.Environment
}

// AuthorizeResult is returned on accept. When the key was already
// authorized the existing emission is returned synchronously and no job
// is enqueued.
type AuthorizeResult struct {
	JobID             *uuid.UUID
	AlreadyAuthorized bool
	Emission          *EmissionResponse
}

// JobStatusResult is the poll contract. A missing job reports status
// "unknown", not an error.
type JobStatusResult struct {
	Status    string     `json:"status"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// QueryMethod reports which identifier the status query used
type QueryMethod string

const (
	QueryMethodReceipt  QueryMethod = "receipt"
	QueryMethodProtocol QueryMethod = "protocol"
)

// StatusResult is the outcome of a status query
type StatusResult struct {
	Status          fiscal.EmissionStatus `json:"status"`
	ResponseCode    int                   `json:"response_code"`
	ResponseMessage string                `json:"response_message"`
	ProtocolNumber  string                `json:"protocol_number,omitempty"`
	ProtocolAt      *time.Time            `json:"protocol_at,omitempty"`
	Method          QueryMethod           `json:"method"`
}

// EmissionResponse is the emission as exposed to callers
type EmissionResponse struct {
	ID              uuid.UUID             `json:"id"`
	CompanyID       uuid.UUID             `json:"company_id"`
	AccessKey       string                `json:"access_key"`
	Series          int                   `json:"series"`
	SequenceNumber  int64                 `json:"sequence_number"`
	Status          fiscal.EmissionStatus `json:"status"`
	Jurisdiction    string                `json:"jurisdiction"`
	Environment     string                `json:"environment"`
	ResponseCode    int                   `json:"response_code,omitempty"`
	ResponseMessage string                `json:"response_message,omitempty"`
	ProtocolNumber  string                `json:"protocol_number,omitempty"`
	ProtocolAt      *time.Time            `json:"protocol_at,omitempty"`
	AttemptCount    int                   `json:"attempt_count"`
	OrderID         *uuid.UUID            `json:"order_id,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// ToEmissionResponse maps the aggregate to its API representation
func ToEmissionResponse(e *fiscal.Emission) EmissionResponse {
	return EmissionResponse{
		ID:              e.ID,
		CompanyID:       e.CompanyID,
		AccessKey:       e.AccessKey,
		Series:          e.Series,
		SequenceNumber:  e.SequenceNumber,
		Status:          e.Status,
		Jurisdiction:    e.Jurisdiction.String(),
		Environment:     string(e.Environment),
		ResponseCode:    e.ResponseCode,
		ResponseMessage: e.ResponseMessage,
		ProtocolNumber:  e.ProtocolNumber,
		ProtocolAt:      e.ProtocolAt,
		AttemptCount:    e.AttemptCount,
		OrderID:         e.OrderID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}
