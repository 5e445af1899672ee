package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/desdobra/backend/internal/infrastructure/config"
)

// Common errors
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrInvalidClaims     = errors.New("invalid token claims")
	ErrTokenNotYetValid  = errors.New("token is not yet valid")
	ErrMissingUserID     = errors.New("missing user_id in claims")
	ErrMissingCompanyIDs = errors.New("missing company_ids in claims")
)

// Claims carries the identity and the company scope of a caller. A user
// may operate several companies; every fiscal lookup is bounded by this
// list, never by data the caller supplies.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string   `json:"user_id"`
	CompanyIDs []string `json:"company_ids"`
}

// JWTService handles JWT token operations
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.AccessTokenExpiration,
		issuer:     cfg.Issuer,
	}
}

// GenerateToken signs an access token for a user operating the given companies
func (s *JWTService) GenerateToken(userID uuid.UUID, companyIDs []uuid.UUID) (string, time.Time, error) {
	if len(companyIDs) == 0 {
		return "", time.Time{}, ErrMissingCompanyIDs
	}

	now := time.Now()
	expiresAt := now.Add(s.expiration)

	companyIDStrings := make([]string, len(companyIDs))
	for i, cid := range companyIDs {
		companyIDStrings[i] = cid.String()
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:     userID.String(),
		CompanyIDs: companyIDStrings,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates an access token and returns its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	if len(claims.CompanyIDs) == 0 {
		return nil, ErrMissingCompanyIDs
	}

	return claims, nil
}

// GetUserUUID extracts and parses the user ID from claims
func (c *Claims) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID)
}

// GetCompanyUUIDs extracts and parses the company scope from claims
func (c *Claims) GetCompanyUUIDs() ([]uuid.UUID, error) {
	companyIDs := make([]uuid.UUID, 0, len(c.CompanyIDs))
	for _, cid := range c.CompanyIDs {
		id, err := uuid.Parse(cid)
		if err != nil {
			return nil, err
		}
		companyIDs = append(companyIDs, id)
	}
	return companyIDs, nil
}

// AllowsCompany reports whether the claims grant access to the company
func (c *Claims) AllowsCompany(companyID uuid.UUID) bool {
	target := companyID.String()
	for _, cid := range c.CompanyIDs {
		if cid == target {
			return true
		}
	}
	return false
}
