package certificate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredential(t *testing.T, companyID uuid.UUID, notAfter time.Time) *fiscal.SigningCredential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ACME LTDA:12345678000190"},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &fiscal.SigningCredential{
		CompanyID:   companyID,
		Certificate: cert,
		PrivateKey:  key,
		Fingerprint: "aa:bb",
		NotAfter:    cert.NotAfter,
	}
}

// writeBundle drops bundle bytes at the resolver's path for the company
// and returns the file's modification time
func writeBundle(t *testing.T, dir string, companyID uuid.UUID, data []byte) time.Time {
	t.Helper()
	path := filepath.Join(dir, companyID.String()+".pfx")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}

func TestFileResolver_Load_CacheHit(t *testing.T) {
	companyID := uuid.New()
	dir := t.TempDir()
	resolver := NewFileResolver(dir, "secret", 30*time.Minute, nil)

	credential := testCredential(t, companyID, time.Now().Add(24*time.Hour))
	resolver.cache[companyID] = cachedCredential{
		credential: credential,
		expiresAt:  time.Now().Add(10 * time.Minute),
		modTime:    writeBundle(t, dir, companyID, []byte("bundle-v1")),
	}

	got, err := resolver.Load(context.Background(), companyID)

	require.NoError(t, err)
	assert.Same(t, credential, got)
}

func TestFileResolver_Load_RotatedBundleIsNotServedFromCache(t *testing.T) {
	companyID := uuid.New()
	dir := t.TempDir()
	resolver := NewFileResolver(dir, "secret", 30*time.Minute, nil)

	credential := testCredential(t, companyID, time.Now().Add(24*time.Hour))
	resolver.cache[companyID] = cachedCredential{
		credential: credential,
		expiresAt:  time.Now().Add(10 * time.Minute),
		modTime:    writeBundle(t, dir, companyID, []byte("bundle-v1")),
	}

	// Rotate the bundle under the live cache entry. Coarse filesystem
	// timestamps can make the rewrite look unchanged, so bump the mtime
	// explicitly.
	writeBundle(t, dir, companyID, []byte("bundle-v2"))
	path := filepath.Join(dir, companyID.String()+".pfx")
	rotatedAt := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, rotatedAt, rotatedAt))

	// The rewritten bundle forces a decode instead of the cached entry;
	// these bytes are not a valid bundle, so serving the stale credential
	// would have masked the rotation.
	_, err := resolver.Load(context.Background(), companyID)
	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)
}

func TestFileResolver_Load_StaleCacheEntryGoesBackToDisk(t *testing.T) {
	companyID := uuid.New()
	resolver := NewFileResolver(t.TempDir(), "secret", 30*time.Minute, nil)

	credential := testCredential(t, companyID, time.Now().Add(24*time.Hour))
	resolver.cache[companyID] = cachedCredential{
		credential: credential,
		expiresAt:  time.Now().Add(-time.Minute),
	}

	// No bundle on disk, so the reload fails loudly instead of serving
	// the stale entry.
	_, err := resolver.Load(context.Background(), companyID)

	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)
}

func TestFileResolver_Load_ExpiredCertificateIsNotServedFromCache(t *testing.T) {
	companyID := uuid.New()
	resolver := NewFileResolver(t.TempDir(), "secret", 30*time.Minute, nil)

	expired := testCredential(t, companyID, time.Now().Add(-time.Hour))
	resolver.cache[companyID] = cachedCredential{
		credential: expired,
		expiresAt:  time.Now().Add(10 * time.Minute),
	}

	_, err := resolver.Load(context.Background(), companyID)

	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)
}

func TestFileResolver_Load_MissingBundle(t *testing.T) {
	resolver := NewFileResolver(t.TempDir(), "secret", 30*time.Minute, nil)

	_, err := resolver.Load(context.Background(), uuid.New())

	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)
}

func TestFileResolver_Invalidate(t *testing.T) {
	companyID := uuid.New()
	resolver := NewFileResolver(t.TempDir(), "secret", 30*time.Minute, nil)

	credential := testCredential(t, companyID, time.Now().Add(24*time.Hour))
	resolver.cache[companyID] = cachedCredential{
		credential: credential,
		expiresAt:  time.Now().Add(10 * time.Minute),
	}

	resolver.Invalidate(companyID)

	_, err := resolver.Load(context.Background(), companyID)
	require.ErrorIs(t, err, fiscal.ErrCredentialUnavailable)

	// invalidating an absent entry is a no-op
	resolver.Invalidate(uuid.New())
}
