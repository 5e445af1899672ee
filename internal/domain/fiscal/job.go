package fiscal

import (
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// JobType identifies the kind of work a queue entry carries
type JobType string

// JobTypeEmit requests authorization of the document attached to an order
const JobTypeEmit JobType = "EMIT"

// JobStatus represents the lifecycle of a queue entry
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusDone       JobStatus = "DONE"
	JobStatusError      JobStatus = "ERROR"
)

// IsValid checks if the status is a valid JobStatus
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusError:
		return true
	}
	return false
}

// EmissionJob decouples the caller's request from the authority round
// trip. The caller creates it, a worker consumes it exactly once, and
// the caller only ever reads it afterwards via polling.
type EmissionJob struct {
	shared.BaseEntity
	Type      JobType
	CompanyID uuid.UUID
	OrderID   uuid.UUID
	Status    JobStatus
	LastError string
}

// NewEmissionJob creates a pending queue entry
func NewEmissionJob(jobType JobType, companyID, orderID uuid.UUID) *EmissionJob {
	return &EmissionJob{
		BaseEntity: shared.NewBaseEntity(),
		Type:       jobType,
		CompanyID:  companyID,
		OrderID:    orderID,
		Status:     JobStatusPending,
	}
}

// Start marks the job as claimed by a worker
func (j *EmissionJob) Start() {
	j.Status = JobStatusProcessing
	j.LastError = ""
	j.Touch()
}

// Complete marks the job as done. A business rejection by the authority
// is a valid terminal outcome and completes the job without an error.
func (j *EmissionJob) Complete() {
	j.Status = JobStatusDone
	j.LastError = ""
	j.Touch()
}

// Requeue hands the job back to the pending pool so a later worker can
// claim it again, keeping the failure that caused the hand-back
func (j *EmissionJob) Requeue(msg string) {
	j.Status = JobStatusPending
	j.LastError = msg
	j.Touch()
}

// Fail marks the job as a system-level error
func (j *EmissionJob) Fail(msg string) {
	j.Status = JobStatusError
	j.LastError = msg
	j.Touch()
}
