package fiscal

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/google/uuid"
)

// SigningCredential is a decrypted signing credential held in process
// memory only. It is never persisted in decrypted form.
type SigningCredential struct {
	CompanyID   uuid.UUID
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	// Fingerprint identifies the encrypted material the credential was
	// decrypted from; a change means the company rotated its credential.
	Fingerprint string
	NotAfter    time.Time
}

// Expired reports whether the certificate validity window has passed
func (c *SigningCredential) Expired(now time.Time) bool {
	return now.After(c.NotAfter)
}

// CredentialResolver loads the signing credential for a company.
// Implementations cache per company within a validity window and must be
// safe for concurrent reads. Failure to load yields
// ErrCredentialUnavailable and aborts orchestration before any network
// attempt.
type CredentialResolver interface {
	Load(ctx context.Context, companyID uuid.UUID) (*SigningCredential, error)
	// Invalidate drops the cached entry after a credential rotation
	Invalidate(companyID uuid.UUID)
}
