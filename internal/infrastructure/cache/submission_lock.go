package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// lockTTL caps how long a crashed worker can hold a submission lock
const lockTTL = 5 * time.Minute

// RedisSubmissionLock serializes emission attempts per (company, access
// key) across instances. The lock is advisory with a TTL: the store's
// uniqueness constraint stays the real guard, the lock only keeps
// concurrent workers from both reaching the authority.
type RedisSubmissionLock struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisSubmissionLock creates a Redis-backed submission lock
func NewRedisSubmissionLock(cfg RedisConfig, logger *zap.Logger) (*RedisSubmissionLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSubmissionLockWithClient(client, "", logger), nil
}

// NewRedisSubmissionLockWithClient creates a lock over an existing
// client, useful for testing or for sharing one client across components
func NewRedisSubmissionLockWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisSubmissionLock {
	if keyPrefix == "" {
		keyPrefix = "fiscal:submission:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSubmissionLock{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

// TryLock attempts to acquire the submission lock without blocking
func (l *RedisSubmissionLock) TryLock(ctx context.Context, companyID uuid.UUID, accessKey string) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key(companyID, accessKey), "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire submission lock: %w", err)
	}
	return acquired, nil
}

// Unlock releases the submission lock. A failed release is logged and
// left to the TTL.
func (l *RedisSubmissionLock) Unlock(ctx context.Context, companyID uuid.UUID, accessKey string) {
	if err := l.client.Del(ctx, l.key(companyID, accessKey)).Err(); err != nil {
		l.logger.Warn("submission lock release failed, expiring by TTL",
			zap.String("access_key", accessKey),
			zap.Error(err),
		)
	}
}

func (l *RedisSubmissionLock) key(companyID uuid.UUID, accessKey string) string {
	return l.keyPrefix + companyID.String() + ":" + accessKey
}

// Close closes the Redis client
func (l *RedisSubmissionLock) Close() error {
	return l.client.Close()
}
