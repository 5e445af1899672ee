package fiscal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*ReconcileService, *MockEmissionRepository, *MockLegacyEmissionRepository) {
	t.Helper()
	emissionRepo := new(MockEmissionRepository)
	legacyRepo := new(MockLegacyEmissionRepository)
	svc := NewReconcileService(emissionRepo, legacyRepo, staticEnvironments{env: fiscal.EnvironmentProduction}, nil)
	return svc, emissionRepo, legacyRepo
}

func legacyRecord(companyID uuid.UUID, accessKey, status string, detail string) *fiscal.LegacyEmission {
	return &fiscal.LegacyEmission{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		CompanyID:       companyID,
		AccessKey:       accessKey,
		Status:          status,
		ResponseMessage: "Autorizado o uso da NF-e",
		Detail:          json.RawMessage(detail),
	}
}

func TestReconcileService_Resolve_CanonicalHit(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	emission := authorizedEmission(companyID, testKey("35"), uuid.New())

	emissionRepo.On("FindByID", ctx, emission.ID).Return(emission, nil)

	got, err := svc.Resolve(ctx, []uuid.UUID{companyID}, emission.ID)

	require.NoError(t, err)
	assert.Same(t, emission, got)
	legacyRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileService_Resolve_CrossCompanyIsNotFound(t *testing.T) {
	svc, emissionRepo, _ := newTestReconciler(t)
	ctx := context.Background()
	emission := authorizedEmission(uuid.New(), testKey("35"), uuid.New())

	emissionRepo.On("FindByID", ctx, emission.ID).Return(emission, nil)

	_, err := svc.Resolve(ctx, []uuid.UUID{uuid.New()}, emission.ID)

	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileService_Resolve_CanonicalizesLegacyRecord(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	key := testKey("41")
	legacy := legacyRecord(companyID, key, "autorizada", `{"nProt":"141220000000007"}`)

	emissionRepo.On("FindByID", ctx, legacy.ID).Return(nil, shared.ErrNotFound)
	legacyRepo.On("FindByID", ctx, []uuid.UUID{companyID}, legacy.ID).Return(legacy, nil)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)

	var upserted *fiscal.Emission
	emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { upserted = args.Get(1).(*fiscal.Emission) }).
		Return(nil)

	got, err := svc.Resolve(ctx, []uuid.UUID{companyID}, legacy.ID)

	require.NoError(t, err)
	require.NotNil(t, upserted)
	assert.Same(t, upserted, got)
	assert.Equal(t, fiscal.EmissionStatusAuthorized, got.Status)
	assert.Equal(t, fiscal.Jurisdiction("41"), got.Jurisdiction)
	assert.Equal(t, "141220000000007", got.ProtocolNumber)
	assert.Equal(t, fiscal.EnvironmentProduction, got.Environment)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, legacy.OrderID, *got.OrderID)
}

func TestReconcileService_Resolve_SecondRunReturnsCanonicalWithoutWriting(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	key := testKey("41")
	legacy := legacyRecord(companyID, key, "autorizada", `{}`)
	canonical := authorizedEmission(companyID, key, legacy.OrderID)

	emissionRepo.On("FindByID", ctx, legacy.ID).Return(nil, shared.ErrNotFound)
	legacyRepo.On("FindByID", ctx, []uuid.UUID{companyID}, legacy.ID).Return(legacy, nil)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(canonical, nil)

	got, err := svc.Resolve(ctx, []uuid.UUID{companyID}, legacy.ID)

	require.NoError(t, err)
	assert.Same(t, canonical, got)
	emissionRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestReconcileService_Canonicalize_ConflictReturnsWinner(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	key := testKey("35")
	legacy := legacyRecord(companyID, key, "autorizada", `{}`)
	winner := authorizedEmission(companyID, key, legacy.OrderID)

	emissionRepo.On("FindByID", ctx, legacy.ID).Return(nil, shared.ErrNotFound)
	legacyRepo.On("FindByID", ctx, []uuid.UUID{companyID}, legacy.ID).Return(legacy, nil)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound).Once()
	emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(shared.ErrAlreadyExists)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(winner, nil).Once()

	got, err := svc.Resolve(ctx, []uuid.UUID{companyID}, legacy.ID)

	require.NoError(t, err)
	assert.Same(t, winner, got)
}

func TestReconcileService_Canonicalize_UnknownPrefixDefaultsJurisdiction(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	key := testKey("99")
	legacy := legacyRecord(companyID, key, "processando", `{}`)

	emissionRepo.On("FindByID", ctx, legacy.ID).Return(nil, shared.ErrNotFound)
	legacyRepo.On("FindByID", ctx, []uuid.UUID{companyID}, legacy.ID).Return(legacy, nil)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(nil)

	got, err := svc.Resolve(ctx, []uuid.UUID{companyID}, legacy.ID)

	require.NoError(t, err)
	assert.Equal(t, fiscal.DefaultJurisdiction, got.Jurisdiction)
	assert.Equal(t, fiscal.EmissionStatusProcessing, got.Status)
}

func TestReconcileService_ResolveByAccessKey(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyA := uuid.New()
	companyB := uuid.New()
	key := testKey("35")
	canonical := authorizedEmission(companyB, key, uuid.New())

	emissionRepo.On("FindByCompanyAndKey", ctx, companyA, key).Return(nil, shared.ErrNotFound)
	emissionRepo.On("FindByCompanyAndKey", ctx, companyB, key).Return(canonical, nil)

	got, err := svc.ResolveByAccessKey(ctx, []uuid.UUID{companyA, companyB}, key)

	require.NoError(t, err)
	assert.Same(t, canonical, got)
	legacyRepo.AssertNotCalled(t, "FindByAccessKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileService_ResolveByAccessKey_Validation(t *testing.T) {
	svc, _, _ := newTestReconciler(t)

	_, err := svc.ResolveByAccessKey(context.Background(), []uuid.UUID{uuid.New()}, "not-a-key")

	require.ErrorIs(t, err, fiscal.ErrInvalidAccessKey)
}

func TestReconcileService_ResolveByAccessKey_NoMatchAnywhere(t *testing.T) {
	svc, emissionRepo, legacyRepo := newTestReconciler(t)
	ctx := context.Background()
	companyID := uuid.New()
	key := testKey("35")

	emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	legacyRepo.On("FindByAccessKey", ctx, []uuid.UUID{companyID}, key).Return([]fiscal.LegacyEmission{}, nil)

	_, err := svc.ResolveByAccessKey(ctx, []uuid.UUID{companyID}, key)

	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLegacyStatusMapping(t *testing.T) {
	tests := []struct {
		legacy string
		want   fiscal.EmissionStatus
	}{
		{"autorizada", fiscal.EmissionStatusAuthorized},
		{"Autorizado", fiscal.EmissionStatusAuthorized},
		{"authorized", fiscal.EmissionStatusAuthorized},
		{"cancelada", fiscal.EmissionStatusCancelled},
		{"denegada", fiscal.EmissionStatusDenied},
		{"processando", fiscal.EmissionStatusProcessing},
		{"em processamento", fiscal.EmissionStatusProcessing},
		{"  autorizada  ", fiscal.EmissionStatusAuthorized},
		{"contingencia", fiscal.EmissionStatusRejected},
		{"", fiscal.EmissionStatusRejected},
	}
	for _, tt := range tests {
		t.Run("legacy status "+tt.legacy, func(t *testing.T) {
			assert.Equal(t, tt.want, legacyStatus(tt.legacy))
		})
	}
}
