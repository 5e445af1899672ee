package fiscal

import (
	"context"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockEmissionRepository is a mock implementation of fiscal.EmissionRepository
type MockEmissionRepository struct {
	mock.Mock
}

func (m *MockEmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*fiscal.Emission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.Emission), args.Error(1)
}

func (m *MockEmissionRepository) FindByCompanyAndKey(ctx context.Context, companyID uuid.UUID, accessKey string) (*fiscal.Emission, error) {
	args := m.Called(ctx, companyID, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.Emission), args.Error(1)
}

func (m *MockEmissionRepository) FindByOrder(ctx context.Context, companyID, orderID uuid.UUID) (*fiscal.Emission, error) {
	args := m.Called(ctx, companyID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.Emission), args.Error(1)
}

func (m *MockEmissionRepository) Save(ctx context.Context, emission *fiscal.Emission) error {
	args := m.Called(ctx, emission)
	return args.Error(0)
}

func (m *MockEmissionRepository) Upsert(ctx context.Context, emission *fiscal.Emission) error {
	args := m.Called(ctx, emission)
	return args.Error(0)
}

// MockLegacyEmissionRepository is a mock implementation of fiscal.LegacyEmissionRepository
type MockLegacyEmissionRepository struct {
	mock.Mock
}

func (m *MockLegacyEmissionRepository) FindByAccessKey(ctx context.Context, companyIDs []uuid.UUID, accessKey string) ([]fiscal.LegacyEmission, error) {
	args := m.Called(ctx, companyIDs, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fiscal.LegacyEmission), args.Error(1)
}

func (m *MockLegacyEmissionRepository) FindByOrder(ctx context.Context, companyIDs []uuid.UUID, orderID uuid.UUID) (*fiscal.LegacyEmission, error) {
	args := m.Called(ctx, companyIDs, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.LegacyEmission), args.Error(1)
}

func (m *MockLegacyEmissionRepository) FindByID(ctx context.Context, companyIDs []uuid.UUID, id uuid.UUID) (*fiscal.LegacyEmission, error) {
	args := m.Called(ctx, companyIDs, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.LegacyEmission), args.Error(1)
}

// MockEmissionJobRepository is a mock implementation of fiscal.EmissionJobRepository
type MockEmissionJobRepository struct {
	mock.Mock
}

func (m *MockEmissionJobRepository) Save(ctx context.Context, job *fiscal.EmissionJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockEmissionJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*fiscal.EmissionJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.EmissionJob), args.Error(1)
}

func (m *MockEmissionJobRepository) Claim(ctx context.Context, id uuid.UUID) (*fiscal.EmissionJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.EmissionJob), args.Error(1)
}

func (m *MockEmissionJobRepository) FindPending(ctx context.Context, limit int) ([]fiscal.EmissionJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fiscal.EmissionJob), args.Error(1)
}

// MockSalesOrderRepository is a mock implementation of trade.SalesOrderRepository
type MockSalesOrderRepository struct {
	mock.Mock
}

func (m *MockSalesOrderRepository) FindByIDForCompany(ctx context.Context, companyID, id uuid.UUID) (*trade.SalesOrder, error) {
	args := m.Called(ctx, companyID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trade.SalesOrder), args.Error(1)
}

func (m *MockSalesOrderRepository) Save(ctx context.Context, order *trade.SalesOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockSalesOrderRepository) UpdateInvoiceStatus(ctx context.Context, companyID, id uuid.UUID, status trade.InvoiceStatus) error {
	args := m.Called(ctx, companyID, id, status)
	return args.Error(0)
}

// MockDraftBuilder is a mock implementation of DraftBuilder
type MockDraftBuilder struct {
	mock.Mock
}

func (m *MockDraftBuilder) Build(ctx context.Context, order *trade.SalesOrder, env fiscal.Environment) (*Draft, error) {
	args := m.Called(ctx, order, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Draft), args.Error(1)
}

// MockSigner is a mock implementation of fiscal.Signer
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Sign(ctx context.Context, draft []byte, credential *fiscal.SigningCredential) ([]byte, error) {
	args := m.Called(ctx, draft, credential)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockCredentialResolver is a mock implementation of fiscal.CredentialResolver
type MockCredentialResolver struct {
	mock.Mock
}

func (m *MockCredentialResolver) Load(ctx context.Context, companyID uuid.UUID) (*fiscal.SigningCredential, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.SigningCredential), args.Error(1)
}

func (m *MockCredentialResolver) Invalidate(companyID uuid.UUID) {
	m.Called(companyID)
}

// MockAuthorityClient is a mock implementation of fiscal.AuthorityClient
type MockAuthorityClient struct {
	mock.Mock
}

func (m *MockAuthorityClient) SubmitBatch(ctx context.Context, signedPayload []byte, lotID string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	args := m.Called(ctx, signedPayload, lotID, jurisdiction, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.RawResponse), args.Error(1)
}

func (m *MockAuthorityClient) QueryByReceipt(ctx context.Context, receiptID string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	args := m.Called(ctx, receiptID, jurisdiction, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.RawResponse), args.Error(1)
}

func (m *MockAuthorityClient) QueryByAccessKey(ctx context.Context, accessKey string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	args := m.Called(ctx, accessKey, jurisdiction, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fiscal.RawResponse), args.Error(1)
}

// MockPayloadStore is a mock implementation of PayloadStore
type MockPayloadStore struct {
	mock.Mock
}

func (m *MockPayloadStore) Put(ctx context.Context, companyID uuid.UUID, accessKey string, payload []byte) (string, error) {
	args := m.Called(ctx, companyID, accessKey, payload)
	return args.String(0), args.Error(1)
}

// MockSubmissionLocker is a mock implementation of SubmissionLocker
type MockSubmissionLocker struct {
	mock.Mock
}

func (m *MockSubmissionLocker) TryLock(ctx context.Context, companyID uuid.UUID, accessKey string) (bool, error) {
	args := m.Called(ctx, companyID, accessKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubmissionLocker) Unlock(ctx context.Context, companyID uuid.UUID, accessKey string) {
	m.Called(ctx, companyID, accessKey)
}

// staticEnvironments is a CompanyEnvironments stub returning one value
type staticEnvironments struct {
	env fiscal.Environment
}

func (s staticEnvironments) EnvironmentFor(ctx context.Context, companyID uuid.UUID) fiscal.Environment {
	return s.env
}
