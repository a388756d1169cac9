package storage

import (
	"context"

	"github.com/bluele/gcache"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of blobs CachingFetcher keeps
const DefaultCacheSize = 256

// CachingFetcher memoizes successful fetches of immutable blobs in an LRU.
// Failures are never cached.
type CachingFetcher struct {
	next   Fetcher
	cache  gcache.Cache
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Fetcher = (*CachingFetcher)(nil)

// NewCachingFetcher wraps next with an LRU of size entries.
func NewCachingFetcher(next Fetcher, size int, logger *zap.Logger) *CachingFetcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingFetcher{
		next:   next,
		cache:  gcache.New(size).LRU().Build(),
		logger: logger,
	}
}

// Fetch returns the cached blob for url or fetches and caches it.
func (f *CachingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if v, err := f.cache.Get(url); err == nil {
		if data, ok := v.([]byte); ok {
			return append([]byte(nil), data...), nil
		}
	}

	data, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(url, append([]byte(nil), data...)); err != nil {
		f.logger.Warn("failed to cache blob", zap.String("url", url), zap.Error(err))
	}
	return data, nil
}
