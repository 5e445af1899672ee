package fiscal

import (
	"context"
	"errors"
	"strings"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompanyEnvironments reports the environment a company is configured
// to emit in. The legacy reconciler uses it to default the flag on
// records that predate it.
type CompanyEnvironments interface {
	EnvironmentFor(ctx context.Context, companyID uuid.UUID) fiscal.Environment
}

// ReconcileService locates pre-migration emission records and backfills
// them into the canonical store exactly once. It is the only component
// allowed to read the legacy schema, and it only ever reads it: the one
// canonicalization write goes through the canonical store's upsert.
//
// The company allow-list passed to every lookup is the authorization
// boundary: a legacy record outside it is never canonicalized nor
// returned.
type ReconcileService struct {
	emissionRepo fiscal.EmissionRepository
	legacyRepo   fiscal.LegacyEmissionRepository
	environments CompanyEnvironments
	logger       *zap.Logger
}

// NewReconcileService creates a new ReconcileService
func NewReconcileService(emissionRepo fiscal.EmissionRepository, legacyRepo fiscal.LegacyEmissionRepository, environments CompanyEnvironments, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileService{
		emissionRepo: emissionRepo,
		legacyRepo:   legacyRepo,
		environments: environments,
		logger:       logger,
	}
}

// Resolve finds an emission by id: first the canonical store, then the
// legacy store scoped to the caller's companies. A legacy-only match is
// canonicalized on the way out.
func (s *ReconcileService) Resolve(ctx context.Context, allowedCompanies []uuid.UUID, id uuid.UUID) (*fiscal.Emission, error) {
	emission, err := s.emissionRepo.FindByID(ctx, id)
	if err == nil {
		if !companyAllowed(allowedCompanies, emission.CompanyID) {
			return nil, shared.ErrNotFound
		}
		return emission, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	legacy, err := s.legacyRepo.FindByID(ctx, allowedCompanies, id)
	if err != nil {
		return nil, err
	}
	return s.canonicalize(ctx, legacy)
}

// ResolveByAccessKey finds an emission by access key within the caller's
// companies, with the same legacy fallback as Resolve
func (s *ReconcileService) ResolveByAccessKey(ctx context.Context, allowedCompanies []uuid.UUID, accessKey string) (*fiscal.Emission, error) {
	if !fiscal.ValidateAccessKey(accessKey) {
		return nil, fiscal.ErrInvalidAccessKey
	}
	for _, companyID := range allowedCompanies {
		emission, err := s.emissionRepo.FindByCompanyAndKey(ctx, companyID, accessKey)
		if err == nil {
			return emission, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	matches, err := s.legacyRepo.FindByAccessKey(ctx, allowedCompanies, accessKey)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, shared.ErrNotFound
	}
	return s.canonicalize(ctx, &matches[0])
}

// ResolveByOrder finds the emission linked to a business document
func (s *ReconcileService) ResolveByOrder(ctx context.Context, allowedCompanies []uuid.UUID, orderID uuid.UUID) (*fiscal.Emission, error) {
	for _, companyID := range allowedCompanies {
		emission, err := s.emissionRepo.FindByOrder(ctx, companyID, orderID)
		if err == nil {
			return emission, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	legacy, err := s.legacyRepo.FindByOrder(ctx, allowedCompanies, orderID)
	if err != nil {
		return nil, err
	}
	return s.canonicalize(ctx, legacy)
}

// canonicalize performs the one-time backfill write for a legacy-only
// record. Re-running it for an already-canonicalized key is a no-op
// that returns the existing canonical record.
func (s *ReconcileService) canonicalize(ctx context.Context, legacy *fiscal.LegacyEmission) (*fiscal.Emission, error) {
	if !fiscal.ValidateAccessKey(legacy.AccessKey) {
		return nil, fiscal.ErrInvalidAccessKey
	}

	if existing, err := s.emissionRepo.FindByCompanyAndKey(ctx, legacy.CompanyID, legacy.AccessKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	jurisdiction, fellBack := fiscal.DeriveJurisdictionOrDefault(legacy.AccessKey)
	if fellBack {
		s.logger.Warn("legacy record has an unknown jurisdiction prefix, defaulting",
			zap.String("access_key", legacy.AccessKey),
			zap.String("jurisdiction", jurisdiction.String()),
			zap.String("legacy_id", legacy.ID.String()),
		)
	}

	orderID := legacy.OrderID
	emission := &fiscal.Emission{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(legacy.CompanyID),
		AccessKey:            legacy.AccessKey,
		Status:               legacyStatus(legacy.Status),
		Jurisdiction:         jurisdiction,
		Environment:          s.environmentFor(ctx, legacy.CompanyID),
		ResponseMessage:      legacy.ResponseMessage,
		ProtocolNumber:       legacy.ProtocolFromDetail(),
		OrderID:              &orderID,
	}

	if err := s.emissionRepo.Upsert(ctx, emission); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			// A concurrent reconciliation won; its record is the result.
			return s.emissionRepo.FindByCompanyAndKey(ctx, legacy.CompanyID, legacy.AccessKey)
		}
		return nil, err
	}

	s.logger.Info("legacy emission canonicalized",
		zap.String("access_key", legacy.AccessKey),
		zap.String("company_id", legacy.CompanyID.String()),
		zap.String("status", emission.Status.String()),
	)
	return emission, nil
}

// legacyStatus maps the old schema's free-form status strings. Anything
// unrecognized classifies as rejected, mirroring the interpreter's
// fail-safe.
func legacyStatus(status string) fiscal.EmissionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "authorized", "autorizada", "autorizado":
		return fiscal.EmissionStatusAuthorized
	case "cancelled", "cancelada", "cancelado":
		return fiscal.EmissionStatusCancelled
	case "denied", "denegada", "denegado":
		return fiscal.EmissionStatusDenied
	case "processing", "processando", "em processamento":
		return fiscal.EmissionStatusProcessing
	default:
		return fiscal.EmissionStatusRejected
	}
}

func (s *ReconcileService) environmentFor(ctx context.Context, companyID uuid.UUID) fiscal.Environment {
	if s.environments == nil {
		return fiscal.EnvironmentHomologation
	}
	return s.environments.EnvironmentFor(ctx, companyID)
}

func companyAllowed(allowed []uuid.UUID, companyID uuid.UUID) bool {
	for _, id := range allowed {
		if id == companyID {
			return true
		}
	}
	return false
}
