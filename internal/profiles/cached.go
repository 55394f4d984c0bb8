package profiles

import (
	"context"

	json "github.com/goccy/go-json"

	"freshanon/internal/models"
	"freshanon/internal/providers"
)

const cachePrefix = "profile:"

// CachedStore keeps go-json encoded profiles in the shared cache. Misses are not cached.
type CachedStore struct {
	inner  Source
	cache  providers.CacheProviderInterface
	logger providers.Logger
}

func NewCachedStore(inner Source, cache providers.CacheProviderInterface, logger providers.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, logger: logger}
}

func (cs *CachedStore) GetProfile(ctx context.Context, participantID string) (*models.Profile, error) {
	key := cachePrefix + participantID
	if data, ok := cs.cache.Get(key); ok {
		var p models.Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		cs.logger.Warnf(providers.TypeStore, "dropping undecodable cached profile %s", participantID)
		cs.cache.Del(key)
	}

	p, err := cs.inner.GetProfile(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		cs.cache.Set(key, data)
	}
	return p, nil
}

// Invalidate drops the cached copy after the profile was changed at the source.
func (cs *CachedStore) Invalidate(participantID string) {
	cs.cache.Del(cachePrefix + participantID)
}
