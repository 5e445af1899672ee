package models

import (
	"encoding/json"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// EmissionModel is the persistence model for the canonical Emission
// record. The composite unique index on (company_id, access_key) is the
// serialization point the whole pipeline leans on; both columns carry
// the index tag explicitly instead of reusing the shared company base.
type EmissionModel struct {
	AggregateModel
	CompanyID        uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_emissions_company_access_key,priority:1"`
	AccessKey        string                `gorm:"type:varchar(44);not null;uniqueIndex:idx_emissions_company_access_key,priority:2"`
	Series           int                   `gorm:"not null;default:0"`
	SequenceNumber   int64                 `gorm:"not null;default:0"`
	Status           fiscal.EmissionStatus `gorm:"type:varchar(20);not null;index"`
	Jurisdiction     fiscal.Jurisdiction   `gorm:"type:varchar(2);not null"`
	Environment      fiscal.Environment    `gorm:"type:varchar(1);not null"`
	SignedPayloadRef string                `gorm:"type:varchar(500)"`
	ResponseCode     int                   `gorm:"not null;default:0"`
	ResponseMessage  string                `gorm:"type:text"`
	ReceiptNumber    string                `gorm:"type:varchar(30)"`
	ProtocolNumber   string                `gorm:"type:varchar(30)"`
	ProtocolAt       *time.Time
	AttemptCount     int        `gorm:"not null;default:0"`
	OrderID          *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (EmissionModel) TableName() string {
	return "emissions"
}

// ToDomain converts the persistence model to a domain Emission
func (m *EmissionModel) ToDomain() *fiscal.Emission {
	emission := &fiscal.Emission{
		AccessKey:        m.AccessKey,
		Series:           m.Series,
		SequenceNumber:   m.SequenceNumber,
		Status:           m.Status,
		Jurisdiction:     m.Jurisdiction,
		Environment:      m.Environment,
		SignedPayloadRef: m.SignedPayloadRef,
		ResponseCode:     m.ResponseCode,
		ResponseMessage:  m.ResponseMessage,
		ReceiptNumber:    m.ReceiptNumber,
		ProtocolNumber:   m.ProtocolNumber,
		ProtocolAt:       m.ProtocolAt,
		AttemptCount:     m.AttemptCount,
		OrderID:          m.OrderID,
	}
	emission.CompanyAggregateRoot = shared.CompanyAggregateRoot{CompanyID: m.CompanyID}
	m.PopulateAggregateRoot(&emission.BaseAggregateRoot)
	return emission
}

// EmissionModelFromDomain converts a domain Emission to the persistence model
func EmissionModelFromDomain(e *fiscal.Emission) *EmissionModel {
	model := &EmissionModel{
		CompanyID:        e.CompanyID,
		AccessKey:        e.AccessKey,
		Series:           e.Series,
		SequenceNumber:   e.SequenceNumber,
		Status:           e.Status,
		Jurisdiction:     e.Jurisdiction,
		Environment:      e.Environment,
		SignedPayloadRef: e.SignedPayloadRef,
		ResponseCode:     e.ResponseCode,
		ResponseMessage:  e.ResponseMessage,
		ReceiptNumber:    e.ReceiptNumber,
		ProtocolNumber:   e.ProtocolNumber,
		ProtocolAt:       e.ProtocolAt,
		AttemptCount:     e.AttemptCount,
		OrderID:          e.OrderID,
	}
	model.FromDomainAggregateRoot(e.BaseAggregateRoot)
	return model
}

// LegacyEmissionModel maps the pre-migration emission table. The access
// key is deliberately non-unique here; duplicates are what the
// canonicalization path exists to resolve.
type LegacyEmissionModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key"`
	OrderID         uuid.UUID `gorm:"type:uuid;not null;index"`
	CompanyID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AccessKey       string    `gorm:"type:varchar(44);not null;index"`
	Status          string    `gorm:"type:varchar(50);not null"`
	ResponseMessage string    `gorm:"type:text"`
	Detail          []byte    `gorm:"type:jsonb"`
	CreatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LegacyEmissionModel) TableName() string {
	return "legacy_emissions"
}

// ToDomain converts the persistence model to a domain LegacyEmission
func (m *LegacyEmissionModel) ToDomain() *fiscal.LegacyEmission {
	return &fiscal.LegacyEmission{
		ID:              m.ID,
		OrderID:         m.OrderID,
		CompanyID:       m.CompanyID,
		AccessKey:       m.AccessKey,
		Status:          m.Status,
		ResponseMessage: m.ResponseMessage,
		Detail:          json.RawMessage(m.Detail),
		CreatedAt:       m.CreatedAt,
	}
}

// EmissionJobModel is the persistence model for queue entries
type EmissionJobModel struct {
	BaseModel
	Type      fiscal.JobType   `gorm:"type:varchar(20);not null"`
	CompanyID uuid.UUID        `gorm:"type:uuid;not null;index"`
	OrderID   uuid.UUID        `gorm:"type:uuid;not null;index"`
	Status    fiscal.JobStatus `gorm:"type:varchar(20);not null;index"`
	LastError string           `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (EmissionJobModel) TableName() string {
	return "emission_jobs"
}

// ToDomain converts the persistence model to a domain EmissionJob
func (m *EmissionJobModel) ToDomain() *fiscal.EmissionJob {
	return &fiscal.EmissionJob{
		BaseEntity: m.BaseModel.ToDomain(),
		Type:       m.Type,
		CompanyID:  m.CompanyID,
		OrderID:    m.OrderID,
		Status:     m.Status,
		LastError:  m.LastError,
	}
}

// EmissionJobModelFromDomain converts a domain EmissionJob to the persistence model
func EmissionJobModelFromDomain(j *fiscal.EmissionJob) *EmissionJobModel {
	model := &EmissionJobModel{
		Type:      j.Type,
		CompanyID: j.CompanyID,
		OrderID:   j.OrderID,
		Status:    j.Status,
		LastError: j.LastError,
	}
	model.FromDomainBaseEntity(j.BaseEntity)
	return model
}
