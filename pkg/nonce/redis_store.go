package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// keyPrefix is the Redis key prefix for signing nonces
	keyPrefix = "permission-nonce"

	stateReserved = "reserved"
	stateUsed     = "used"
)

// RedisStore implements Store interface using Redis
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based nonce store with default TTL
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return NewRedisStoreWithTTL(client, DefaultTTL, logger)
}

// NewRedisStoreWithTTL creates a new Redis-based nonce store with custom TTL
func NewRedisStoreWithTTL(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// buildKey creates a Redis key from a nonce key
// Format: permission-nonce:{contract}:{user}:{nonce}
func buildKey(key Key) string {
	return keyPrefix + ":" + key.String()
}

// Reserve attempts to reserve a nonce using SETNX
func (s *RedisStore) Reserve(ctx context.Context, key Key) error {
	// SETNX with TTL - only succeeds if key doesn't exist
	ok, err := s.client.SetNX(ctx, buildKey(key), stateReserved, s.ttl).Result()
	if err != nil {
		s.logger.Error("failed to reserve nonce",
			zap.String("user", key.User.Hex()),
			zap.Stringer("nonce", key.Nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}

	if !ok {
		s.logger.Warn("nonce already used or reserved",
			zap.String("user", key.User.Hex()),
			zap.Stringer("nonce", key.Nonce),
		)
		return ErrNonceAlreadyUsed
	}

	s.logger.Debug("nonce reserved",
		zap.String("user", key.User.Hex()),
		zap.Stringer("nonce", key.Nonce),
	)
	return nil
}

// MarkUsed marks a reserved nonce as used
func (s *RedisStore) MarkUsed(ctx context.Context, key Key) error {
	err := s.client.Set(ctx, buildKey(key), stateUsed, s.ttl).Err()
	if err != nil {
		s.logger.Error("failed to mark nonce as used",
			zap.String("user", key.User.Hex()),
			zap.Stringer("nonce", key.Nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark nonce as used: %w", err)
	}

	s.logger.Debug("nonce marked as used",
		zap.String("user", key.User.Hex()),
		zap.Stringer("nonce", key.Nonce),
	)
	return nil
}

// Release releases a reserved nonce, allowing retry. A nonce already marked
// used is left in place.
func (s *RedisStore) Release(ctx context.Context, key Key) error {
	redisKey := buildKey(key)

	state, err := s.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read nonce state: %w", err)
	}
	if state == stateUsed {
		return nil
	}

	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		s.logger.Error("failed to release nonce",
			zap.String("user", key.User.Hex()),
			zap.Stringer("nonce", key.Nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to release nonce: %w", err)
	}

	s.logger.Debug("nonce released",
		zap.String("user", key.User.Hex()),
		zap.Stringer("nonce", key.Nonce),
	)
	return nil
}
