package queue

import (
	"context"
	"fmt"

	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
	"github.com/desdobra/backend/internal/domain/fiscal"
)

// EmitExecutor dispatches claimed jobs to the emission service
type EmitExecutor struct {
	service *appfiscal.EmissionService
}

// NewEmitExecutor creates the executor backing EMIT jobs
func NewEmitExecutor(service *appfiscal.EmissionService) *EmitExecutor {
	return &EmitExecutor{service: service}
}

// Execute runs the job's pipeline. An unrecognized job type errors the
// job instead of silently dropping it.
func (e *EmitExecutor) Execute(ctx context.Context, job *fiscal.EmissionJob) error {
	switch job.Type {
	case fiscal.JobTypeEmit:
		return e.service.Process(ctx, job.CompanyID, job.OrderID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
}

var (
	_ Executor             = (*EmitExecutor)(nil)
	_ appfiscal.JobEnqueuer = (*EmissionQueue)(nil)
)
