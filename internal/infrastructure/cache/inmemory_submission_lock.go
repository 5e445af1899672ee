package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// lockEntry holds the acquisition deadline of one held lock
type lockEntry struct {
	expiresAt time.Time
}

// InMemorySubmissionLock is the single-instance implementation of the
// submission lock, also used by tests. Held locks expire after the same
// TTL as the Redis variant so a leaked lock cannot wedge an access key.
type InMemorySubmissionLock struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

// NewInMemorySubmissionLock creates a new in-memory submission lock
func NewInMemorySubmissionLock() *InMemorySubmissionLock {
	return &InMemorySubmissionLock{
		locks: make(map[string]lockEntry),
	}
}

// TryLock attempts to acquire the submission lock without blocking
func (l *InMemorySubmissionLock) TryLock(ctx context.Context, companyID uuid.UUID, accessKey string) (bool, error) {
	key := companyID.String() + ":" + accessKey
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, held := l.locks[key]; held && now.Before(entry.expiresAt) {
		return false, nil
	}
	l.locks[key] = lockEntry{expiresAt: now.Add(lockTTL)}
	return true, nil
}

// Unlock releases the submission lock
func (l *InMemorySubmissionLock) Unlock(ctx context.Context, companyID uuid.UUID, accessKey string) {
	key := companyID.String() + ":" + accessKey
	l.mu.Lock()
	delete(l.locks, key)
	l.mu.Unlock()
}
