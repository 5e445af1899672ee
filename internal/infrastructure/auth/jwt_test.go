package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desdobra/backend/internal/infrastructure/config"
)

func newTestJWTService() *JWTService {
	cfg := config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "test-issuer",
	}
	return NewJWTService(cfg)
}

func TestGenerateToken(t *testing.T) {
	svc := newTestJWTService()
	userID := uuid.New()
	companyIDs := []uuid.UUID{uuid.New(), uuid.New()}

	token, expiresAt, err := svc.GenerateToken(userID, companyIDs)

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 2*time.Second)
}

func TestGenerateToken_RequiresCompanyScope(t *testing.T) {
	svc := newTestJWTService()

	_, _, err := svc.GenerateToken(uuid.New(), nil)

	assert.ErrorIs(t, err, ErrMissingCompanyIDs)
}

func TestValidateToken(t *testing.T) {
	svc := newTestJWTService()
	userID := uuid.New()
	companyIDs := []uuid.UUID{uuid.New(), uuid.New()}

	token, _, err := svc.GenerateToken(userID, companyIDs)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)

	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "test-issuer", claims.Issuer)

	gotUser, err := claims.GetUserUUID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)

	gotCompanies, err := claims.GetCompanyUUIDs()
	require.NoError(t, err)
	assert.Equal(t, companyIDs, gotCompanies)
}

func TestValidateToken_InvalidToken(t *testing.T) {
	svc := newTestJWTService()

	_, err := svc.ValidateToken("not-a-token")

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc := newTestJWTService()
	token, _, err := svc.GenerateToken(uuid.New(), []uuid.UUID{uuid.New()})
	require.NoError(t, err)

	other := NewJWTService(config.JWTConfig{
		Secret:                "another-secret-key-also-32-chars!",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "test-issuer",
	})

	_, err = other.ValidateToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		AccessTokenExpiration: -time.Minute,
		Issuer:                "test-issuer",
	})

	token, _, err := svc.GenerateToken(uuid.New(), []uuid.UUID{uuid.New()})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestClaims_AllowsCompany(t *testing.T) {
	svc := newTestJWTService()
	allowed := uuid.New()

	token, _, err := svc.GenerateToken(uuid.New(), []uuid.UUID{allowed})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)

	assert.True(t, claims.AllowsCompany(allowed))
	assert.False(t, claims.AllowsCompany(uuid.New()))
}
