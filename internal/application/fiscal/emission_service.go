package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DraftBuilder builds the unsigned document for an order. It is a local,
// deterministic collaborator: building the same order twice yields the
// same access key.
type DraftBuilder interface {
	Build(ctx context.Context, order *trade.SalesOrder, env fiscal.Environment) (*Draft, error)
}

// PayloadStore archives signed payload blobs and returns an opaque
// reference stored on the emission
type PayloadStore interface {
	Put(ctx context.Context, companyID uuid.UUID, accessKey string, payload []byte) (string, error)
}

// SubmissionLocker serializes concurrent orchestration attempts for one
// (company, access key) pair before they reach the store's uniqueness
// constraint
type SubmissionLocker interface {
	TryLock(ctx context.Context, companyID uuid.UUID, accessKey string) (bool, error)
	Unlock(ctx context.Context, companyID uuid.UUID, accessKey string)
}

// JobEnqueuer hands a persisted job to the worker pool
type JobEnqueuer interface {
	Enqueue(job *fiscal.EmissionJob) error
}

// PipelineMetrics receives pipeline observations. Optional, like the
// event publisher.
type PipelineMetrics interface {
	RecordEmissionOutcome(ctx context.Context, status string)
	RecordAuthorityRoundTrip(ctx context.Context, operation string, duration time.Duration)
}

// EmissionService owns the authorization pipeline: idempotency guard,
// draft persistence, signing, submission, interpretation and the
// best-effort order status mirror.
type EmissionService struct {
	emissionRepo   fiscal.EmissionRepository
	jobRepo        fiscal.EmissionJobRepository
	orderRepo      trade.SalesOrderRepository
	drafter        DraftBuilder
	signer         fiscal.Signer
	credentials    fiscal.CredentialResolver
	authority      fiscal.AuthorityClient
	interpreter    *fiscal.Interpreter
	payloads       PayloadStore
	locks          SubmissionLocker
	enqueuer       JobEnqueuer
	reconciler     *ReconcileService
	eventPublisher shared.EventPublisher
	metrics        PipelineMetrics
	logger         *zap.Logger
}

// EmissionServiceDeps bundles the collaborators of the pipeline
type EmissionServiceDeps struct {
	EmissionRepo fiscal.EmissionRepository
	JobRepo      fiscal.EmissionJobRepository
	OrderRepo    trade.SalesOrderRepository
	Drafter      DraftBuilder
	Signer       fiscal.Signer
	Credentials  fiscal.CredentialResolver
	Authority    fiscal.AuthorityClient
	Interpreter  *fiscal.Interpreter
	Payloads     PayloadStore
	Locks        SubmissionLocker
	Reconciler   *ReconcileService
	Logger       *zap.Logger
}

// NewEmissionService creates a new EmissionService
func NewEmissionService(deps EmissionServiceDeps) *EmissionService {
	interpreter := deps.Interpreter
	if interpreter == nil {
		interpreter = fiscal.NewInterpreter()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmissionService{
		emissionRepo: deps.EmissionRepo,
		jobRepo:      deps.JobRepo,
		orderRepo:    deps.OrderRepo,
		drafter:      deps.Drafter,
		signer:       deps.Signer,
		credentials:  deps.Credentials,
		authority:    deps.Authority,
		interpreter:  interpreter,
		payloads:     deps.Payloads,
		locks:        deps.Locks,
		reconciler:   deps.Reconciler,
		logger:       logger,
	}
}

// SetEventPublisher sets the publisher for cross-context integration
func (s *EmissionService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetJobEnqueuer sets the worker-pool handoff. Without one, jobs stay
// pending until the queue poller picks them up.
func (s *EmissionService) SetJobEnqueuer(enqueuer JobEnqueuer) {
	s.enqueuer = enqueuer
}

// SetMetrics sets the pipeline metrics sink
func (s *EmissionService) SetMetrics(metrics PipelineMetrics) {
	s.metrics = metrics
}

// Authorize runs the idempotency guard and, on a miss, enqueues an EMIT
// job for the background worker. The caller polls the job afterwards.
// On a hit the existing canonical record is returned verbatim and no
// network call is ever made.
func (s *EmissionService) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if !req.Environment.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENVIRONMENT", "Environment must be \"1\" (production) or \"2\" (homologation)")
	}

	order, err := s.orderRepo.FindByIDForCompany(ctx, req.CompanyID, req.OrderID)
	if err != nil {
		return nil, err
	}

	draft, err := s.drafter.Build(ctx, order, req.Environment)
	if err != nil {
		return nil, err
	}
	if !fiscal.ValidateAccessKey(draft.AccessKey) {
		return nil, fiscal.ErrInvalidAccessKey
	}

	existing, err := s.checkIdempotent(ctx, req.CompanyID, draft.AccessKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		resp := ToEmissionResponse(existing)
		return &AuthorizeResult{AlreadyAuthorized: true, Emission: &resp}, nil
	}

	job := fiscal.NewEmissionJob(fiscal.JobTypeEmit, req.CompanyID, req.OrderID)
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return nil, err
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(job); err != nil {
			// The job is persisted; the queue poller will pick it up.
			s.logger.Warn("job handoff failed, leaving it for the poller",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}
	return &AuthorizeResult{JobID: &job.ID}, nil
}

// checkIdempotent returns the canonical record that short-circuits a new
// submission. A DRAFT record does not short-circuit: it is a
// half-submitted document left by a crash and the pipeline resumes it.
func (s *EmissionService) checkIdempotent(ctx context.Context, companyID uuid.UUID, accessKey string) (*fiscal.Emission, error) {
	if !fiscal.ValidateAccessKey(accessKey) {
		return nil, fiscal.ErrInvalidAccessKey
	}
	existing, err := s.emissionRepo.FindByCompanyAndKey(ctx, companyID, accessKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.Status == fiscal.EmissionStatusDraft {
		return nil, nil
	}
	return existing, nil
}

// Process is the worker entry point for an EMIT job. It drives the
// emission through draft, signing, submission and interpretation. A
// returned error is a system failure subject to the queue's re-delivery
// policy; a business rejection by the authority completes normally.
func (s *EmissionService) Process(ctx context.Context, companyID, orderID uuid.UUID) error {
	order, err := s.orderRepo.FindByIDForCompany(ctx, companyID, orderID)
	if err != nil {
		return err
	}

	draft, err := s.drafter.Build(ctx, order, s.environmentFor(ctx, companyID))
	if err != nil {
		return err
	}
	if !fiscal.ValidateAccessKey(draft.AccessKey) {
		return fiscal.ErrInvalidAccessKey
	}

	if s.locks != nil {
		acquired, err := s.locks.TryLock(ctx, companyID, draft.AccessKey)
		if err != nil {
			return err
		}
		if !acquired {
			// Another worker holds the submission; it will finish or the
			// job gets re-delivered.
			s.logger.Info("submission already in flight",
				zap.String("access_key", draft.AccessKey),
				zap.String("company_id", companyID.String()),
			)
			return nil
		}
		defer s.locks.Unlock(ctx, companyID, draft.AccessKey)
	}

	emission, err := s.resumeOrCreate(ctx, companyID, orderID, draft)
	if err != nil {
		return err
	}
	if emission == nil {
		// Resolved by an earlier attempt; nothing to submit.
		return nil
	}

	s.mirrorOrder(ctx, emission, trade.InvoiceStatusPending)

	credential, err := s.credentials.Load(ctx, companyID)
	if err != nil {
		// Abort before signing and before any network attempt. The
		// draft record stays visible for manual reconciliation.
		s.logger.Error("signing credential unavailable",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		return fiscal.ErrCredentialUnavailable
	}

	signed, err := s.signer.Sign(ctx, draft.Payload, credential)
	if err != nil {
		s.logger.Error("signer failed, not contacting the authority",
			zap.String("access_key", draft.AccessKey),
			zap.Error(err),
		)
		if rejErr := emission.RejectLocally(fiscal.ErrSigningFailed); rejErr != nil {
			return rejErr
		}
		if saveErr := s.emissionRepo.Save(ctx, emission); saveErr != nil {
			return saveErr
		}
		s.publishEvents(ctx, emission)
		s.recordOutcome(ctx, emission)
		// A local signing failure is a terminal business outcome; the
		// caller decides whether to resubmit.
		return nil
	}

	ref, err := s.payloads.Put(ctx, companyID, draft.AccessKey, signed)
	if err != nil {
		return err
	}
	if err := emission.AttachSignedPayload(ref); err != nil {
		return err
	}

	// The attempt is audited before the exchange so a submission that
	// never comes back still shows up in the counter.
	if err := emission.BeginAttempt(); err != nil {
		return err
	}
	if err := s.emissionRepo.Save(ctx, emission); err != nil {
		return err
	}

	lotID := uuid.New().String()
	started := time.Now()
	resp, err := s.authority.SubmitBatch(ctx, signed, lotID, emission.Jurisdiction, emission.Environment)
	s.recordRoundTrip(ctx, "submit", started)
	if err != nil {
		s.logAuthorityError("submit", emission.AccessKey, err)
		return err
	}

	if err := emission.BeginSubmission(); err != nil {
		return err
	}
	emission.RecordReceipt(resp.ReceiptNumber)

	outcome := s.interpreter.Interpret(resp)
	if err := emission.ApplyOutcome(outcome.Status, outcome.Code, outcome.Message, outcome.Protocol); err != nil {
		return err
	}
	if err := s.emissionRepo.Save(ctx, emission); err != nil {
		return err
	}
	s.publishEvents(ctx, emission)
	s.recordOutcome(ctx, emission)

	s.logger.Info("emission resolved",
		zap.String("access_key", emission.AccessKey),
		zap.String("status", emission.Status.String()),
		zap.Int("response_code", emission.ResponseCode),
		zap.Int("attempt", emission.AttemptCount),
	)
	return nil
}

// resumeOrCreate persists the draft record before any network call, or
// resumes whatever an earlier attempt left behind. A nil emission with a
// nil error means the key is already resolved.
func (s *EmissionService) resumeOrCreate(ctx context.Context, companyID, orderID uuid.UUID, draft *Draft) (*fiscal.Emission, error) {
	existing, err := s.emissionRepo.FindByCompanyAndKey(ctx, companyID, draft.AccessKey)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch {
		case existing.Status == fiscal.EmissionStatusDraft:
			// Crash between draft persistence and submission; resume it.
			return existing, nil
		case existing.Status == fiscal.EmissionStatusProcessing:
			// Submitted but unresolved; poll instead of resubmitting.
			if _, err := s.refresh(ctx, existing); err != nil {
				return nil, err
			}
			return nil, nil
		default:
			return nil, nil
		}
	}

	env := s.environmentFor(ctx, companyID)
	emission, err := fiscal.NewEmission(companyID, draft.AccessKey, draft.Series, draft.SequenceNumber, env, &orderID)
	if err != nil {
		return nil, err
	}
	if err := s.emissionRepo.Upsert(ctx, emission); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			// Lost the uniqueness race: the winner's record is the
			// result, never an error.
			winner, readErr := s.emissionRepo.FindByCompanyAndKey(ctx, companyID, draft.AccessKey)
			if readErr != nil {
				return nil, readErr
			}
			if winner.Status == fiscal.EmissionStatusDraft {
				return winner, nil
			}
			return nil, nil
		}
		return nil, err
	}
	return emission, nil
}

// QueryStatus resolves an emission by canonical id, falling back to
// legacy reconciliation, and reports its current authority status. An
// unresolved submission is re-queried: by receipt when the authority
// issued one, by access key otherwise.
func (s *EmissionService) QueryStatus(ctx context.Context, allowedCompanies []uuid.UUID, id uuid.UUID) (*StatusResult, error) {
	emission, err := s.reconciler.Resolve(ctx, allowedCompanies, id)
	if err != nil {
		return nil, err
	}

	if emission.Status == fiscal.EmissionStatusProcessing {
		return s.refresh(ctx, emission)
	}

	return &StatusResult{
		Status:          emission.Status,
		ResponseCode:    emission.ResponseCode,
		ResponseMessage: emission.ResponseMessage,
		ProtocolNumber:  emission.ProtocolNumber,
		ProtocolAt:      emission.ProtocolAt,
		Method:          s.queryMethodFor(emission),
	}, nil
}

// refresh polls the authority for an unresolved submission and persists
// any transition. The environment flag propagates unchanged from the
// original submission.
func (s *EmissionService) refresh(ctx context.Context, emission *fiscal.Emission) (*StatusResult, error) {
	var (
		resp   *fiscal.RawResponse
		err    error
		method = s.queryMethodFor(emission)
	)
	started := time.Now()
	if method == QueryMethodReceipt {
		resp, err = s.authority.QueryByReceipt(ctx, emission.ReceiptNumber, emission.Jurisdiction, emission.Environment)
	} else {
		resp, err = s.authority.QueryByAccessKey(ctx, emission.AccessKey, emission.Jurisdiction, emission.Environment)
	}
	s.recordRoundTrip(ctx, "query_"+string(method), started)
	if err != nil {
		s.logAuthorityError("query", emission.AccessKey, err)
		return nil, err
	}

	outcome := s.interpreter.Interpret(resp)
	if emission.Status.CanTransitionTo(outcome.Status) {
		if err := emission.ApplyOutcome(outcome.Status, outcome.Code, outcome.Message, outcome.Protocol); err != nil {
			return nil, err
		}
		if err := s.emissionRepo.Save(ctx, emission); err != nil {
			return nil, err
		}
		s.publishEvents(ctx, emission)
		s.recordOutcome(ctx, emission)
	}

	return &StatusResult{
		Status:          emission.Status,
		ResponseCode:    emission.ResponseCode,
		ResponseMessage: emission.ResponseMessage,
		ProtocolNumber:  emission.ProtocolNumber,
		ProtocolAt:      emission.ProtocolAt,
		Method:          method,
	}, nil
}

func (s *EmissionService) queryMethodFor(emission *fiscal.Emission) QueryMethod {
	if emission.ReceiptNumber != "" {
		return QueryMethodReceipt
	}
	return QueryMethodProtocol
}

// PollJob reads the state of a queue entry. A missing job reports
// "unknown" rather than an error: the caller cannot distinguish a
// purged job from one it mistyped, and neither is actionable.
func (s *EmissionService) PollJob(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return &JobStatusResult{Status: "unknown"}, nil
		}
		return nil, err
	}
	updated := job.UpdatedAt
	return &JobStatusResult{
		Status:    string(job.Status),
		LastError: job.LastError,
		UpdatedAt: &updated,
	}, nil
}

// GetByID fetches an emission the caller's company set may see
func (s *EmissionService) GetByID(ctx context.Context, allowedCompanies []uuid.UUID, id uuid.UUID) (*EmissionResponse, error) {
	emission, err := s.reconciler.Resolve(ctx, allowedCompanies, id)
	if err != nil {
		return nil, err
	}
	resp := ToEmissionResponse(emission)
	return &resp, nil
}

// environmentFor returns the company's configured environment
func (s *EmissionService) environmentFor(ctx context.Context, companyID uuid.UUID) fiscal.Environment {
	if s.reconciler != nil {
		return s.reconciler.environmentFor(ctx, companyID)
	}
	return fiscal.EnvironmentHomologation
}

// mirrorOrder propagates the emission status to the linked order. The
// mirror is fire-and-forget with respect to the emission's durability.
func (s *EmissionService) mirrorOrder(ctx context.Context, emission *fiscal.Emission, status trade.InvoiceStatus) {
	if emission.OrderID == nil {
		return
	}
	if err := s.orderRepo.UpdateInvoiceStatus(ctx, emission.CompanyID, *emission.OrderID, status); err != nil {
		s.logger.Warn("order invoice status mirror failed",
			zap.String("order_id", emission.OrderID.String()),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}

// publishEvents hands the aggregate's pending events to the bus.
// Handler failures are logged by the bus and never fail the emission.
func (s *EmissionService) publishEvents(ctx context.Context, emission *fiscal.Emission) {
	events := emission.GetDomainEvents()
	if len(events) == 0 || s.eventPublisher == nil {
		emission.ClearDomainEvents()
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("emission_id", emission.ID.String()),
			zap.Error(err),
		)
	}
	emission.ClearDomainEvents()
}

func (s *EmissionService) recordOutcome(ctx context.Context, emission *fiscal.Emission) {
	if s.metrics != nil {
		s.metrics.RecordEmissionOutcome(ctx, emission.Status.String())
	}
}

func (s *EmissionService) recordRoundTrip(ctx context.Context, operation string, started time.Time) {
	if s.metrics != nil {
		s.metrics.RecordAuthorityRoundTrip(ctx, operation, time.Since(started))
	}
}

// logAuthorityError logs the structured detail of an authority failure.
// Only operators see this; callers get a generic message in production.
func (s *EmissionService) logAuthorityError(op, accessKey string, err error) {
	var authErr *fiscal.AuthorityError
	if errors.As(err, &authErr) {
		s.logger.Error("authority exchange failed",
			zap.String("operation", op),
			zap.String("access_key", accessKey),
			zap.String("authority_code", authErr.Code),
			zap.String("hint", authErr.Hint),
			zap.Int("http_status", authErr.HTTPStatus),
			zap.Error(authErr.Err),
		)
		return
	}
	s.logger.Error("authority exchange failed",
		zap.String("operation", op),
		zap.String("access_key", accessKey),
		zap.Error(err),
	)
}
