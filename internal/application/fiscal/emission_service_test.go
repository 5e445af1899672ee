package fiscal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type serviceMocks struct {
	emissionRepo *MockEmissionRepository
	legacyRepo   *MockLegacyEmissionRepository
	jobRepo      *MockEmissionJobRepository
	orderRepo    *MockSalesOrderRepository
	drafter      *MockDraftBuilder
	signer       *MockSigner
	credentials  *MockCredentialResolver
	authority    *MockAuthorityClient
	payloads     *MockPayloadStore
	locks        *MockSubmissionLocker
}

func newTestService(t *testing.T) (*EmissionService, *serviceMocks) {
	t.Helper()
	m := &serviceMocks{
		emissionRepo: new(MockEmissionRepository),
		legacyRepo:   new(MockLegacyEmissionRepository),
		jobRepo:      new(MockEmissionJobRepository),
		orderRepo:    new(MockSalesOrderRepository),
		drafter:      new(MockDraftBuilder),
		signer:       new(MockSigner),
		credentials:  new(MockCredentialResolver),
		authority:    new(MockAuthorityClient),
		payloads:     new(MockPayloadStore),
		locks:        new(MockSubmissionLocker),
	}
	reconciler := NewReconcileService(m.emissionRepo, m.legacyRepo, staticEnvironments{env: fiscal.EnvironmentHomologation}, nil)
	svc := NewEmissionService(EmissionServiceDeps{
		EmissionRepo: m.emissionRepo,
		JobRepo:      m.jobRepo,
		OrderRepo:    m.orderRepo,
		Drafter:      m.drafter,
		Signer:       m.signer,
		Credentials:  m.credentials,
		Authority:    m.authority,
		Payloads:     m.payloads,
		Locks:        m.locks,
		Reconciler:   reconciler,
	})
	return svc, m
}

func testKey(prefix string) string {
	return prefix + strings.Repeat("0", fiscal.AccessKeyLength-len(prefix))
}

func testOrder(t *testing.T, companyID uuid.UUID) *trade.SalesOrder {
	t.Helper()
	order, err := trade.NewSalesOrder(companyID, "SO-0042", "ACME Ltda", decimal.NewFromInt(1500))
	require.NoError(t, err)
	return order
}

func authorizedEmission(companyID uuid.UUID, accessKey string, orderID uuid.UUID) *fiscal.Emission {
	return &fiscal.Emission{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(companyID),
		AccessKey:            accessKey,
		Series:               1,
		SequenceNumber:       42,
		Status:               fiscal.EmissionStatusAuthorized,
		Jurisdiction:         fiscal.DefaultJurisdiction,
		Environment:          fiscal.EnvironmentHomologation,
		ResponseCode:         100,
		ResponseMessage:      "Autorizado o uso da NF-e",
		ProtocolNumber:       "135220000000001",
		OrderID:              &orderID,
	}
}

func TestEmissionService_Authorize_EnqueuesJob(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)

	var saved *fiscal.EmissionJob
	m.jobRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.EmissionJob")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*fiscal.EmissionJob) }).
		Return(nil)

	result, err := svc.Authorize(ctx, AuthorizeRequest{CompanyID: companyID, OrderID: orderID, Environment: fiscal.EnvironmentHomologation})

	require.NoError(t, err)
	require.NotNil(t, result.JobID)
	assert.False(t, result.AlreadyAuthorized)
	require.NotNil(t, saved)
	assert.Equal(t, *result.JobID, saved.ID)
	assert.Equal(t, fiscal.JobTypeEmit, saved.Type)
	assert.Equal(t, fiscal.JobStatusPending, saved.Status)
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_Authorize_IdempotentHit(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	existing := authorizedEmission(companyID, key, orderID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(existing, nil)

	result, err := svc.Authorize(ctx, AuthorizeRequest{CompanyID: companyID, OrderID: orderID, Environment: fiscal.EnvironmentHomologation})

	require.NoError(t, err)
	assert.True(t, result.AlreadyAuthorized)
	assert.Nil(t, result.JobID)
	require.NotNil(t, result.Emission)
	assert.Equal(t, key, result.Emission.AccessKey)
	assert.Equal(t, "Autorizado o uso da NF-e", result.Emission.ResponseMessage)
	// the guard answers without a job and without any network exchange
	m.jobRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_Authorize_DraftRecordDoesNotShortCircuit(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("41")

	order := testOrder(t, companyID)
	leftover := authorizedEmission(companyID, key, orderID)
	leftover.Status = fiscal.EmissionStatusDraft
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(leftover, nil)
	m.jobRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.EmissionJob")).Return(nil)

	result, err := svc.Authorize(ctx, AuthorizeRequest{CompanyID: companyID, OrderID: orderID, Environment: fiscal.EnvironmentHomologation})

	require.NoError(t, err)
	assert.False(t, result.AlreadyAuthorized)
	require.NotNil(t, result.JobID)
}

func TestEmissionService_Authorize_InvalidEnvironment(t *testing.T) {
	svc, m := newTestService(t)

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{CompanyID: uuid.New(), OrderID: uuid.New(), Environment: "3"})

	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_ENVIRONMENT", domainErr.Code)
	m.orderRepo.AssertNotCalled(t, "FindByIDForCompany", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_Process_Authorizes(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")
	protocolAt := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(nil)
	m.orderRepo.On("UpdateInvoiceStatus", ctx, companyID, orderID, trade.InvoiceStatusPending).Return(nil)
	m.credentials.On("Load", ctx, companyID).Return(&fiscal.SigningCredential{CompanyID: companyID}, nil)
	m.signer.On("Sign", ctx, []byte("<NFe/>"), mock.AnythingOfType("*fiscal.SigningCredential")).
		Return([]byte("<NFe signed/>"), nil)
	m.payloads.On("Put", ctx, companyID, key, []byte("<NFe signed/>")).Return("payloads/"+key+".xml", nil)
	m.authority.On("SubmitBatch", ctx, []byte("<NFe signed/>"), mock.AnythingOfType("string"), fiscal.DefaultJurisdiction, fiscal.EnvironmentHomologation).
		Return(&fiscal.RawResponse{
			Code:              100,
			Message:           "Autorizado o uso da NF-e",
			ReceiptNumber:     "351000123456789",
			ProtocolNumber:    "135220000000001",
			ProtocolTimestamp: &protocolAt,
		}, nil)

	var saved *fiscal.Emission
	m.emissionRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*fiscal.Emission) }).
		Return(nil)

	err := svc.Process(ctx, companyID, orderID)

	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, fiscal.EmissionStatusAuthorized, saved.Status)
	assert.Equal(t, 100, saved.ResponseCode)
	assert.Equal(t, "Autorizado o uso da NF-e", saved.ResponseMessage)
	assert.Equal(t, "135220000000001", saved.ProtocolNumber)
	require.NotNil(t, saved.ProtocolAt)
	assert.True(t, saved.ProtocolAt.Equal(protocolAt))
	assert.Equal(t, "351000123456789", saved.ReceiptNumber)
	assert.Equal(t, "payloads/"+key+".xml", saved.SignedPayloadRef)
	assert.Equal(t, 1, saved.AttemptCount)
}

func TestEmissionService_Process_RejectionKeepsAuthorityMessageVerbatim(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(nil)
	m.orderRepo.On("UpdateInvoiceStatus", ctx, companyID, orderID, trade.InvoiceStatusPending).Return(nil)
	m.credentials.On("Load", ctx, companyID).Return(&fiscal.SigningCredential{CompanyID: companyID}, nil)
	m.signer.On("Sign", ctx, mock.Anything, mock.Anything).Return([]byte("<NFe signed/>"), nil)
	m.payloads.On("Put", ctx, companyID, key, mock.Anything).Return("ref", nil)
	m.authority.On("SubmitBatch", ctx, mock.Anything, mock.Anything, fiscal.DefaultJurisdiction, fiscal.EnvironmentHomologation).
		Return(&fiscal.RawResponse{
			Code:    203,
			Message: "Rejeição: Emissor não habilitado para emissão da NF-e",
		}, nil)

	var saved *fiscal.Emission
	m.emissionRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*fiscal.Emission) }).
		Return(nil)

	err := svc.Process(ctx, companyID, orderID)

	// a business rejection completes the job normally
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, fiscal.EmissionStatusRejected, saved.Status)
	assert.Equal(t, 203, saved.ResponseCode)
	assert.Equal(t, "Rejeição: Emissor não habilitado para emissão da NF-e", saved.ResponseMessage)
	assert.Empty(t, saved.ProtocolNumber)
}

func TestEmissionService_Process_CredentialUnavailableAbortsBeforeNetwork(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(nil)
	m.orderRepo.On("UpdateInvoiceStatus", ctx, companyID, orderID, trade.InvoiceStatusPending).Return(nil)
	m.credentials.On("Load", ctx, companyID).Return(nil, errors.New("certificate file missing"))

	err := svc.Process(ctx, companyID, orderID)

	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)
	m.signer.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything, mock.Anything)
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.emissionRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEmissionService_Process_SigningFailureRejectsLocally(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(nil)
	m.orderRepo.On("UpdateInvoiceStatus", ctx, companyID, orderID, trade.InvoiceStatusPending).Return(nil)
	m.credentials.On("Load", ctx, companyID).Return(&fiscal.SigningCredential{CompanyID: companyID}, nil)
	m.signer.On("Sign", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("corrupt key material"))

	var saved *fiscal.Emission
	m.emissionRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*fiscal.Emission) }).
		Return(nil)

	err := svc.Process(ctx, companyID, orderID)

	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, fiscal.EmissionStatusRejected, saved.Status)
	assert.Contains(t, saved.ResponseMessage, "SIGNING_FAILED")
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_Process_NetworkFailureLeavesDraft(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound)

	var drafted *fiscal.Emission
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { drafted = args.Get(1).(*fiscal.Emission) }).
		Return(nil)
	m.orderRepo.On("UpdateInvoiceStatus", ctx, companyID, orderID, trade.InvoiceStatusPending).Return(nil)
	m.credentials.On("Load", ctx, companyID).Return(&fiscal.SigningCredential{CompanyID: companyID}, nil)
	m.signer.On("Sign", ctx, mock.Anything, mock.Anything).Return([]byte("<NFe signed/>"), nil)
	m.payloads.On("Put", ctx, companyID, key, mock.Anything).Return("ref", nil)

	var persisted *fiscal.Emission
	m.emissionRepo.On("Save", ctx, mock.AnythingOfType("*fiscal.Emission")).
		Run(func(args mock.Arguments) { persisted = args.Get(1).(*fiscal.Emission) }).
		Return(nil)

	netErr := &fiscal.AuthorityError{Code: "TIMEOUT", Hint: "authority did not answer in time", Err: context.DeadlineExceeded}
	m.authority.On("SubmitBatch", ctx, mock.Anything, mock.Anything, fiscal.DefaultJurisdiction, fiscal.EnvironmentHomologation).
		Return(nil, netErr)

	err := svc.Process(ctx, companyID, orderID)

	// the error surfaces for the queue's re-delivery; the persisted record
	// stays a draft so the retry resumes instead of duplicating
	require.Error(t, err)
	var authErr *fiscal.AuthorityError
	require.ErrorAs(t, err, &authErr)
	require.NotNil(t, drafted)
	assert.Equal(t, fiscal.EmissionStatusDraft, drafted.Status)
	// the attempt is audited even though the authority never answered
	require.NotNil(t, persisted)
	assert.Equal(t, fiscal.EmissionStatusDraft, persisted.Status)
	assert.Equal(t, 1, persisted.AttemptCount)
	assert.Equal(t, "ref", persisted.SignedPayloadRef)
}

func TestEmissionService_Process_UpsertConflictYieldsToWinner(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	order := testOrder(t, companyID)
	winner := authorizedEmission(companyID, key, orderID)

	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(nil, shared.ErrNotFound).Once()
	m.emissionRepo.On("Upsert", ctx, mock.AnythingOfType("*fiscal.Emission")).Return(shared.ErrAlreadyExists)
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(winner, nil).Once()

	err := svc.Process(ctx, companyID, orderID)

	// losing the uniqueness race is a success, not an error
	require.NoError(t, err)
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.credentials.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestEmissionService_Process_UnresolvedSubmissionPollsInsteadOfResubmitting(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")
	protocolAt := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)

	order := testOrder(t, companyID)
	inFlight := authorizedEmission(companyID, key, orderID)
	inFlight.Status = fiscal.EmissionStatusProcessing
	inFlight.ReceiptNumber = "351000123456789"
	inFlight.ResponseCode = 103
	inFlight.ResponseMessage = "Lote recebido com sucesso"
	inFlight.ProtocolNumber = ""

	m.orderRepo.On("FindByIDForCompany", ctx, companyID, orderID).Return(order, nil)
	m.drafter.On("Build", ctx, order, fiscal.EnvironmentHomologation).
		Return(&Draft{AccessKey: key, Series: 1, SequenceNumber: 42, Payload: []byte("<NFe/>")}, nil)
	m.locks.On("TryLock", ctx, companyID, key).Return(true, nil)
	m.locks.On("Unlock", ctx, companyID, key).Return()
	m.emissionRepo.On("FindByCompanyAndKey", ctx, companyID, key).Return(inFlight, nil)
	m.authority.On("QueryByReceipt", ctx, "351000123456789", fiscal.DefaultJurisdiction, fiscal.EnvironmentHomologation).
		Return(&fiscal.RawResponse{
			Code:              100,
			Message:           "Autorizado o uso da NF-e",
			ProtocolNumber:    "135220000000002",
			ProtocolTimestamp: &protocolAt,
		}, nil)
	m.emissionRepo.On("Save", ctx, inFlight).Return(nil)

	err := svc.Process(ctx, companyID, orderID)

	require.NoError(t, err)
	assert.Equal(t, fiscal.EmissionStatusAuthorized, inFlight.Status)
	assert.Equal(t, "135220000000002", inFlight.ProtocolNumber)
	m.authority.AssertNotCalled(t, "SubmitBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_QueryStatus_TerminalIsAnsweredLocally(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	emission := authorizedEmission(companyID, testKey("35"), orderID)
	emission.ReceiptNumber = "351000123456789"
	id := emission.ID

	m.emissionRepo.On("FindByID", ctx, id).Return(emission, nil)

	result, err := svc.QueryStatus(ctx, []uuid.UUID{companyID}, id)

	require.NoError(t, err)
	assert.Equal(t, fiscal.EmissionStatusAuthorized, result.Status)
	assert.Equal(t, 100, result.ResponseCode)
	assert.Equal(t, QueryMethodReceipt, result.Method)
	m.authority.AssertNotCalled(t, "QueryByReceipt", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.authority.AssertNotCalled(t, "QueryByAccessKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmissionService_QueryStatus_ProcessingWithoutReceiptQueriesByKey(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	companyID := uuid.New()
	orderID := uuid.New()
	key := testKey("35")

	emission := authorizedEmission(companyID, key, orderID)
	emission.Status = fiscal.EmissionStatusProcessing
	emission.ReceiptNumber = ""
	emission.ResponseCode = 105
	emission.ResponseMessage = "Lote em processamento"
	emission.ProtocolNumber = ""
	id := emission.ID

	m.emissionRepo.On("FindByID", ctx, id).Return(emission, nil)
	m.authority.On("QueryByAccessKey", ctx, key, fiscal.DefaultJurisdiction, fiscal.EnvironmentHomologation).
		Return(&fiscal.RawResponse{Code: 105, Message: "Lote em processamento"}, nil)

	result, err := svc.QueryStatus(ctx, []uuid.UUID{companyID}, id)

	require.NoError(t, err)
	assert.Equal(t, fiscal.EmissionStatusProcessing, result.Status)
	assert.Equal(t, QueryMethodProtocol, result.Method)
	// still unresolved, so nothing to persist
	m.emissionRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEmissionService_QueryStatus_CrossCompanyIsNotFound(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	emission := authorizedEmission(uuid.New(), testKey("35"), uuid.New())
	id := emission.ID

	m.emissionRepo.On("FindByID", ctx, id).Return(emission, nil)

	_, err := svc.QueryStatus(ctx, []uuid.UUID{uuid.New()}, id)

	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEmissionService_PollJob(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()

	t.Run("known job", func(t *testing.T) {
		job := fiscal.NewEmissionJob(fiscal.JobTypeEmit, uuid.New(), uuid.New())
		job.Start()
		job.Fail("authority timeout")
		m.jobRepo.On("FindByID", ctx, job.ID).Return(job, nil)

		result, err := svc.PollJob(ctx, job.ID)

		require.NoError(t, err)
		assert.Equal(t, string(fiscal.JobStatusError), result.Status)
		assert.Equal(t, "authority timeout", result.LastError)
		require.NotNil(t, result.UpdatedAt)
	})

	t.Run("missing job reports unknown", func(t *testing.T) {
		missing := uuid.New()
		m.jobRepo.On("FindByID", ctx, missing).Return(nil, shared.ErrNotFound)

		result, err := svc.PollJob(ctx, missing)

		require.NoError(t, err)
		assert.Equal(t, "unknown", result.Status)
		assert.Empty(t, result.LastError)
	})
}
