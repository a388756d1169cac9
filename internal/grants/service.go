package grants

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/internal/common/errors"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/storage/sqlstore"
)

const cacheKeyPrefix = "grant-file:"

// Repository persists grant files. *sqlstore.Store satisfies it.
type Repository interface {
	Put(ctx context.Context, name string, content []byte) (*sqlstore.Record, bool, error)
	Get(ctx context.Context, hash common.Hash) (*sqlstore.Record, error)
	URL(hash common.Hash) string
}

// Compile-time interface compliance check
var _ Repository = (*sqlstore.Store)(nil)

// Cache is a read-through cache of grant file contents. Grant files never
// change once stored, so entries are never invalidated.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get for absent keys
var ErrCacheMiss = stderrors.New("cache miss")

// RedisCache adapts a Redis client to Cache.
type RedisCache struct {
	client redis.UniversalClient
}

// Compile-time interface compliance check
var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Service validates and stores grant files
type Service struct {
	repo     Repository
	cache    Cache
	cacheTTL time.Duration
	maxSize  int64
	logger   *zap.Logger
}

// NewService creates a new grant file service. cache may be nil.
func NewService(repo Repository, cache Cache, cacheTTL time.Duration, maxSize int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		maxSize:  maxSize,
		logger:   logger,
	}
}

// MaxSize is the largest accepted document in bytes
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Store validates content against the grant file schema and stores it.
// Storing an identical document again returns the existing record.
func (s *Service) Store(ctx context.Context, name string, content []byte) (*GrantFileResponse, error) {
	if s.maxSize > 0 && int64(len(content)) > s.maxSize {
		return nil, errors.TooLarge(s.maxSize)
	}
	if _, err := grantfile.Parse(content); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	rec, created, err := s.repo.Put(ctx, name, content)
	if err != nil {
		s.logger.Error("failed to store grant file", zap.String("name", name), zap.Error(err))
		return nil, errors.DBError(err)
	}
	s.warm(ctx, rec.Hash, content)

	s.logger.Info("grant file stored",
		zap.String("hash", rec.Hash.Hex()),
		zap.Bool("created", created),
	)
	return ToGrantFileResponse(rec, s.repo.URL(rec.Hash), created), nil
}

// Get returns the raw content of the grant file with hash.
func (s *Service) Get(ctx context.Context, hash common.Hash) ([]byte, error) {
	key := cacheKeyPrefix + hash.Hex()

	// 1. Cache
	if s.cache != nil {
		content, err := s.cache.Get(ctx, key)
		if err == nil {
			return content, nil
		}
		if !stderrors.Is(err, ErrCacheMiss) {
			s.logger.Warn("grant cache read failed", zap.String("hash", hash.Hex()), zap.Error(err))
		}
	}

	// 2. Database
	rec, err := s.repo.Get(ctx, hash)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("grant file")
		}
		s.logger.Error("failed to load grant file", zap.String("hash", hash.Hex()), zap.Error(err))
		return nil, errors.DBError(err)
	}

	s.warm(ctx, hash, rec.Content)
	return rec.Content, nil
}

func (s *Service) warm(ctx context.Context, hash common.Hash, content []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+hash.Hex(), content, s.cacheTTL); err != nil {
		s.logger.Warn("grant cache write failed", zap.String("hash", hash.Hex()), zap.Error(err))
	}
}
