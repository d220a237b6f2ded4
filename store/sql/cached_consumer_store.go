package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-oauth-provider/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const consumerCacheKeyPrefix = "go-oauth-provider::consumer::v1"

// CachedConsumerStore fronts a ConsumerStore with a read-through cache.
// Consumer rows change rarely and are read on every signed request, which
// makes them the one hot-path lookup worth caching. Saves go through the base
// store and the caller is expected to invalidate via InvalidateKey.
type CachedConsumerStore struct {
	base  core.ConsumerStore
	cache repositorycache.CacheService
	class core.PolicyClass
}

func NewCachedConsumerStore(
	base core.ConsumerStore,
	cacheService repositorycache.CacheService,
	class core.PolicyClass,
) (*CachedConsumerStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base consumer store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: consumer cache service is required")
	}
	if err := class.Validate(); err != nil {
		return nil, err
	}
	return &CachedConsumerStore{base: base, cache: cacheService, class: class}, nil
}

// ConsumerCacheKey returns the deterministic cache key contract for consumer
// reads: go-oauth-provider::consumer::v1::<class>::<field>::<value> with each
// segment URL-path escaped.
func ConsumerCacheKey(class core.PolicyClass, field string, value string) string {
	segments := []string{
		string(class),
		field,
		strings.TrimSpace(value),
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{consumerCacheKeyPrefix}, segments...), "::")
}

func (s *CachedConsumerStore) Lookup(ctx context.Context, consumerKey string) (core.Consumer, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: cached consumer store is not configured")
	}
	cacheKey := ConsumerCacheKey(s.class, "key", consumerKey)
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Consumer, error) {
		return s.base.Lookup(ctx, consumerKey)
	})
}

func (s *CachedConsumerStore) LookupByEmail(ctx context.Context, email string) (core.Consumer, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: cached consumer store is not configured")
	}
	cacheKey := ConsumerCacheKey(s.class, "email", email)
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Consumer, error) {
		return s.base.LookupByEmail(ctx, email)
	})
}

// InvalidateKey drops the cached entry for a consumer key, for use after a
// registration update.
func (s *CachedConsumerStore) InvalidateKey(ctx context.Context, consumerKey string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached consumer store is not configured")
	}
	return s.cache.Delete(ctx, ConsumerCacheKey(s.class, "key", consumerKey))
}

var _ core.ConsumerStore = (*CachedConsumerStore)(nil)
