package fiscal

import (
	"context"

	"github.com/google/uuid"
)

// EmissionRepository persists canonical emission records. All writers
// must go through Upsert: the (company_id, access_key) uniqueness
// constraint is the serialization point for concurrent submissions, and
// blind inserts would turn the loser's conflict into data loss.
type EmissionRepository interface {
	// FindByID finds an emission by its canonical ID
	FindByID(ctx context.Context, id uuid.UUID) (*Emission, error)
	// FindByCompanyAndKey finds the canonical record for the pair, the
	// idempotency lookup of the pipeline
	FindByCompanyAndKey(ctx context.Context, companyID uuid.UUID, accessKey string) (*Emission, error)
	// FindByOrder finds the emission linked to a business document
	FindByOrder(ctx context.Context, companyID, orderID uuid.UUID) (*Emission, error)
	// Save persists a new or updated emission
	Save(ctx context.Context, emission *Emission) error
	// Upsert inserts the emission or, on a (company_id, access_key)
	// conflict, returns shared.ErrAlreadyExists so the caller can
	// re-read the winner
	Upsert(ctx context.Context, emission *Emission) error
}

// LegacyEmissionRepository reads pre-migration records. The pipeline
// never writes here.
type LegacyEmissionRepository interface {
	// FindByAccessKey finds legacy records for the key within the given
	// company set
	FindByAccessKey(ctx context.Context, companyIDs []uuid.UUID, accessKey string) ([]LegacyEmission, error)
	// FindByOrder finds the legacy record attached to an order
	FindByOrder(ctx context.Context, companyIDs []uuid.UUID, orderID uuid.UUID) (*LegacyEmission, error)
	// FindByID finds a legacy record by its own identifier
	FindByID(ctx context.Context, companyIDs []uuid.UUID, id uuid.UUID) (*LegacyEmission, error)
}

// EmissionJobRepository persists queue entries
type EmissionJobRepository interface {
	Save(ctx context.Context, job *EmissionJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*EmissionJob, error)
	// Claim transitions a pending job to processing, guarding against
	// double consumption. It returns shared.ErrNotFound when the job was
	// already claimed.
	Claim(ctx context.Context, id uuid.UUID) (*EmissionJob, error)
	// FindPending lists pending jobs for worker pickup, oldest first
	FindPending(ctx context.Context, limit int) ([]EmissionJob, error)
}
