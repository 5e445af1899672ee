package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySubmissionLock_TryLock(t *testing.T) {
	lock := NewInMemorySubmissionLock()
	ctx := context.Background()
	companyID := uuid.New()
	key := "35000000000000000000000000000000000000000000"

	acquired, err := lock.TryLock(ctx, companyID, key)
	require.NoError(t, err)
	assert.True(t, acquired)

	// second acquisition of the same pair is refused
	acquired, err = lock.TryLock(ctx, companyID, key)
	require.NoError(t, err)
	assert.False(t, acquired)

	// other company or key is independent
	acquired, err = lock.TryLock(ctx, uuid.New(), key)
	require.NoError(t, err)
	assert.True(t, acquired)

	lock.Unlock(ctx, companyID, key)
	acquired, err = lock.TryLock(ctx, companyID, key)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestInMemorySubmissionLock_ExpiredLockIsReacquirable(t *testing.T) {
	lock := NewInMemorySubmissionLock()
	ctx := context.Background()
	companyID := uuid.New()
	key := "35000000000000000000000000000000000000000000"

	_, err := lock.TryLock(ctx, companyID, key)
	require.NoError(t, err)

	lock.mu.Lock()
	entry := lock.locks[companyID.String()+":"+key]
	entry.expiresAt = time.Now().Add(-time.Second)
	lock.locks[companyID.String()+":"+key] = entry
	lock.mu.Unlock()

	acquired, err := lock.TryLock(ctx, companyID, key)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestInMemorySubmissionLock_SingleWinnerUnderContention(t *testing.T) {
	lock := NewInMemorySubmissionLock()
	ctx := context.Background()
	companyID := uuid.New()
	key := "41000000000000000000000000000000000000000000"

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired, err := lock.TryLock(ctx, companyID, key)
			if err == nil && acquired {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}
