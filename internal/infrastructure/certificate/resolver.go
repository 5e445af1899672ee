package certificate

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/pkcs12"
)

// cachedCredential is a resolved credential with its cache deadline and
// the bundle's modification time at decode
type cachedCredential struct {
	credential *fiscal.SigningCredential
	expiresAt  time.Time
	modTime    time.Time
}

// FileResolver loads per-company signing credentials from PKCS#12
// bundles on disk, one <company-id>.pfx per company. Decoded
// credentials are cached with a TTL so the worker pool does not reopen
// the bundle on every emission. A rotated bundle is detected on the
// next Load even while the TTL is fresh; Invalidate drops a company's
// entry by hand.
type FileResolver struct {
	dir      string
	password string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedCredential
}

// NewFileResolver creates a resolver over the given certificate directory
func NewFileResolver(dir, password string, ttl time.Duration, logger *zap.Logger) *FileResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileResolver{
		dir:      dir,
		password: password,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[uuid.UUID]cachedCredential),
	}
}

// Load returns the company's signing credential, from cache when fresh.
// Any failure surfaces as ErrCredentialUnavailable so the pipeline
// aborts before signing.
func (r *FileResolver) Load(ctx context.Context, companyID uuid.UUID) (*fiscal.SigningCredential, error) {
	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[companyID]
	r.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) && !entry.credential.Expired(now) && !r.rotated(companyID, entry) {
		return entry.credential, nil
	}

	credential, modTime, err := r.loadFromDisk(companyID)
	if err != nil {
		r.logger.Error("certificate bundle unusable",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", fiscal.ErrCredentialUnavailable, err)
	}
	if credential.Expired(now) {
		r.logger.Error("certificate expired",
			zap.String("company_id", companyID.String()),
			zap.Time("not_after", credential.NotAfter),
		)
		return nil, fmt.Errorf("%w: certificate expired at %s", fiscal.ErrCredentialUnavailable, credential.NotAfter.Format(time.RFC3339))
	}

	if ok && entry.credential.Fingerprint != credential.Fingerprint {
		r.logger.Info("certificate rotated",
			zap.String("company_id", companyID.String()),
			zap.String("old_fingerprint", entry.credential.Fingerprint),
			zap.String("new_fingerprint", credential.Fingerprint),
		)
	}

	r.mu.Lock()
	r.cache[companyID] = cachedCredential{credential: credential, expiresAt: now.Add(r.ttl), modTime: modTime}
	r.mu.Unlock()

	return credential, nil
}

// Invalidate drops the cached credential for a company
func (r *FileResolver) Invalidate(companyID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, companyID)
	r.mu.Unlock()
}

// rotated reports whether the on-disk bundle changed since the entry
// was decoded. A rewritten bundle must not keep signing from cache for
// the rest of the TTL.
func (r *FileResolver) rotated(companyID uuid.UUID, entry cachedCredential) bool {
	info, err := os.Stat(r.bundlePath(companyID))
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(entry.modTime)
}

func (r *FileResolver) bundlePath(companyID uuid.UUID) string {
	return filepath.Join(r.dir, companyID.String()+".pfx")
}

func (r *FileResolver) loadFromDisk(companyID uuid.UUID) (*fiscal.SigningCredential, time.Time, error) {
	path := r.bundlePath(companyID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading bundle: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading bundle: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, r.password)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding bundle: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("bundle key is %T, want *rsa.PrivateKey", key)
	}

	sum := sha1.Sum(cert.Raw)
	return &fiscal.SigningCredential{
		CompanyID:   companyID,
		Certificate: cert,
		PrivateKey:  rsaKey,
		Fingerprint: hex.EncodeToString(sum[:]),
		NotAfter:    cert.NotAfter,
	}, info.ModTime(), nil
}

// Ensure FileResolver implements fiscal.CredentialResolver
var _ fiscal.CredentialResolver = (*FileResolver)(nil)
