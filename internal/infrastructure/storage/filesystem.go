// Package storage archives signed fiscal payloads.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
)

// FilesystemPayloadStore keeps signed payload blobs on the local file
// system, one directory per company. The returned reference is relative
// to the base path so the base can move without rewriting records.
type FilesystemPayloadStore struct {
	basePath string
	logger   *zap.Logger
}

// NewFilesystemPayloadStore creates the store and its base directory
func NewFilesystemPayloadStore(basePath string, logger *zap.Logger) (*FilesystemPayloadStore, error) {
	if basePath == "" {
		basePath = "./payloads"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create payload directory %s: %w", basePath, err)
	}
	return &FilesystemPayloadStore{basePath: basePath, logger: logger}, nil
}

// Put archives a signed payload and returns its reference. Writing goes
// through a temp file and rename so a crash never leaves a half-written
// blob behind a valid reference.
func (s *FilesystemPayloadStore) Put(ctx context.Context, companyID uuid.UUID, accessKey string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}

	ref := filepath.Join(companyID.String(), accessKey+".xml")
	fullPath := filepath.Join(s.basePath, ref)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create company directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".payload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close payload file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to store payload: %w", err)
	}

	s.logger.Debug("Signed payload archived",
		zap.String("company_id", companyID.String()),
		zap.String("ref", ref),
		zap.Int("size", len(payload)),
	)

	return ref, nil
}

// Get reads an archived payload back by its reference. References are
// validated against path traversal before touching the file system.
func (s *FilesystemPayloadStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("payload reference is empty")
	}
	cleaned := filepath.Clean(ref)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("invalid payload reference: %s", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, cleaned))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload %s: %w", ref, err)
	}
	return data, nil
}

var _ appfiscal.PayloadStore = (*FilesystemPayloadStore)(nil)
