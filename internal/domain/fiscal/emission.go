package fiscal

import (
	"time"

	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// EmissionStatus represents the authorization state of a fiscal document
type EmissionStatus string

const (
	EmissionStatusDraft      EmissionStatus = "DRAFT"
	EmissionStatusProcessing EmissionStatus = "PROCESSING"
	EmissionStatusAuthorized EmissionStatus = "AUTHORIZED"
	EmissionStatusDenied     EmissionStatus = "DENIED"
	EmissionStatusRejected   EmissionStatus = "REJECTED"
	EmissionStatusCancelled  EmissionStatus = "CANCELLED"
)

// IsValid checks if the status is a valid EmissionStatus
func (s EmissionStatus) IsValid() bool {
	switch s {
	case EmissionStatusDraft, EmissionStatusProcessing, EmissionStatusAuthorized,
		EmissionStatusDenied, EmissionStatusRejected, EmissionStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of EmissionStatus
func (s EmissionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status cannot change through a normal
// submission cycle. PROCESSING is ambiguous: the authority acknowledged
// receipt but has not resolved the batch, so it is re-enterable.
func (s EmissionStatus) IsTerminal() bool {
	switch s {
	case EmissionStatusAuthorized, EmissionStatusDenied, EmissionStatusRejected, EmissionStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo checks if the status can transition to the target status
func (s EmissionStatus) CanTransitionTo(target EmissionStatus) bool {
	switch s {
	case EmissionStatusDraft:
		return target == EmissionStatusProcessing || target == EmissionStatusRejected
	case EmissionStatusProcessing:
		// Batch may stay queued across polls, so PROCESSING -> PROCESSING is legal.
		return target == EmissionStatusProcessing || target == EmissionStatusAuthorized ||
			target == EmissionStatusDenied || target == EmissionStatusRejected
	case EmissionStatusAuthorized:
		// Only a separate cancellation document can undo an authorization.
		return target == EmissionStatusCancelled
	case EmissionStatusDenied, EmissionStatusRejected, EmissionStatusCancelled:
		return false
	}
	return false
}

// Environment is the authority-facing mode flag: "1" production,
// "2" test/homologation. It must propagate unchanged from submission to
// every subsequent query for the same key.
type Environment string

const (
	EnvironmentProduction   Environment = "1"
	EnvironmentHomologation Environment = "2"
)

// IsValid checks the environment flag
func (e Environment) IsValid() bool {
	return e == EnvironmentProduction || e == EnvironmentHomologation
}

// Protocol carries the authority-assigned receipt proving authorization
type Protocol struct {
	Number    string
	Timestamp *time.Time
}

// Emission is the canonical record of a fiscal document submission,
// uniquely identified by (company_id, access_key). It owns the state
// machine of the authorization pipeline.
type Emission struct {
	shared.CompanyAggregateRoot
	AccessKey        string
	Series           int
	SequenceNumber   int64
	Status           EmissionStatus
	Jurisdiction     Jurisdiction
	Environment      Environment
	SignedPayloadRef string
	ResponseCode     int
	ResponseMessage  string
	ReceiptNumber    string
	ProtocolNumber   string
	ProtocolAt       *time.Time
	AttemptCount     int
	OrderID          *uuid.UUID
}

// NewEmission creates a draft emission for the given company and access key.
// The draft is persisted before any network call so a half-submitted
// document is always visible for manual reconciliation.
func NewEmission(companyID uuid.UUID, accessKey string, series int, sequence int64, env Environment, orderID *uuid.UUID) (*Emission, error) {
	if !ValidateAccessKey(accessKey) {
		return nil, ErrInvalidAccessKey
	}
	jurisdiction, err := DeriveJurisdiction(accessKey)
	if err != nil {
		return nil, err
	}
	if !env.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENVIRONMENT", "Environment must be \"1\" (production) or \"2\" (homologation)")
	}

	return &Emission{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(companyID),
		AccessKey:            accessKey,
		Series:               series,
		SequenceNumber:       sequence,
		Status:               EmissionStatusDraft,
		Jurisdiction:         jurisdiction,
		Environment:          env,
		AttemptCount:         0,
		OrderID:              orderID,
	}, nil
}

// BeginAttempt audits one submission attempt. It is persisted before
// the exchange so a timed-out submission still leaves a trace: the
// counter reads how many times the document reached for the authority,
// not how many answers came back.
func (e *Emission) BeginAttempt() error {
	if e.Status.IsTerminal() {
		return shared.ErrInvalidState
	}
	e.AttemptCount++
	e.UpdatedAt = time.Now()
	return nil
}

// BeginSubmission marks the emission as acknowledged by the authority.
// The lot identifier is recorded by the caller.
func (e *Emission) BeginSubmission() error {
	if !e.Status.CanTransitionTo(EmissionStatusProcessing) {
		return shared.ErrInvalidState
	}
	e.Status = EmissionStatusProcessing
	e.UpdatedAt = time.Now()
	return nil
}

// AttachSignedPayload records the reference to the signed payload blob.
// The reference is immutable once the emission is authorized.
func (e *Emission) AttachSignedPayload(ref string) error {
	if e.Status == EmissionStatusAuthorized {
		return shared.ErrInvalidState
	}
	e.SignedPayloadRef = ref
	e.UpdatedAt = time.Now()
	return nil
}

// RecordReceipt stores the batch receipt identifier returned by the
// authority. Subsequent status queries prefer it over the access key.
func (e *Emission) RecordReceipt(number string) {
	if number == "" {
		return
	}
	e.ReceiptNumber = number
	e.UpdatedAt = time.Now()
}

// ApplyOutcome applies an interpreted authority outcome. The authority
// message is preserved verbatim. Protocol data is only attached when the
// authority provided it.
func (e *Emission) ApplyOutcome(status EmissionStatus, code int, message string, protocol *Protocol) error {
	if e.Status == EmissionStatusAuthorized && status != EmissionStatusCancelled {
		// Authorized emissions are immutable apart from cancellation.
		return shared.ErrInvalidState
	}
	if !e.Status.CanTransitionTo(status) {
		return shared.ErrInvalidState
	}

	previous := e.Status
	e.Status = status
	e.ResponseCode = code
	e.ResponseMessage = message
	if protocol != nil {
		e.ProtocolNumber = protocol.Number
		e.ProtocolAt = protocol.Timestamp
	}
	e.UpdatedAt = time.Now()

	if previous != status {
		e.AddDomainEvent(NewEmissionStatusChanged(e, previous))
	}
	return nil
}

// RejectLocally records a failure that happened before the authority was
// contacted (e.g. the signer collaborator failed). The reason code keeps
// local failures distinguishable from authority rejections.
func (e *Emission) RejectLocally(reason *shared.DomainError) error {
	if !e.Status.CanTransitionTo(EmissionStatusRejected) {
		return shared.ErrInvalidState
	}
	previous := e.Status
	e.Status = EmissionStatusRejected
	e.ResponseCode = 0
	e.ResponseMessage = reason.Code + ": " + reason.Message
	e.UpdatedAt = time.Now()
	e.AddDomainEvent(NewEmissionStatusChanged(e, previous))
	return nil
}

// IsAuthorized reports whether the document holds a valid authorization
func (e *Emission) IsAuthorized() bool {
	return e.Status == EmissionStatusAuthorized
}
