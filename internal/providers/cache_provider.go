package providers

import (
	"freshanon/internal/structures"
	"github.com/coocood/freecache"
	"strings"
	"time"
	"unsafe"
)

// CacheProviderInterface is the byte cache shared by the profile lookups and the
// stats endpoint. Keys are "<namespace>:<id>" or a bare namespace.
type CacheProviderInterface interface {
	Get(key string) ([]byte, bool)
	// Set stores value for the configured default TTL.
	Set(key string, value []byte)
	SetTTL(key string, value []byte, ttl time.Duration)
	Del(key string)
}

// CacheNamespace returns the part of key before the first ':'.
func CacheNamespace(key string) string {
	if ns, _, ok := strings.Cut(key, ":"); ok {
		return ns
	}
	return key
}

type CacheProvider struct {
	cache *freecache.Cache
	ttl   int
}

func NewCacheProvider(conf *structures.Config, logger Logger) CacheProviderInterface {
	if !conf.Cache.Enabled || conf.Cache.Size <= 0 {
		logger.Infof(TypeApp, "Cache disabled")
		return &noopCache{}
	}

	sizeBytes := conf.Cache.Size * 1024 * 1024
	ttl := expireSeconds(conf.Cache.TTL)

	logger.Infof(TypeApp, "Cache initialized: %dMB, TTL=%ds, stats TTL=%s", conf.Cache.Size, ttl, conf.Cache.StatsTTL)

	return &CacheProvider{
		cache: freecache.NewCache(sizeBytes),
		ttl:   ttl,
	}
}

// expireSeconds rounds d up to whole seconds, at least one: freecache treats 0 as
// "never expires".
func expireSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// unsafeStringToBytes converts string to []byte without allocation.
// freecache copies keys, so the result is never written to.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *CacheProvider) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *CacheProvider) Set(key string, value []byte) {
	_ = c.cache.Set(unsafeStringToBytes(key), value, c.ttl)
}

func (c *CacheProvider) SetTTL(key string, value []byte, ttl time.Duration) {
	_ = c.cache.Set(unsafeStringToBytes(key), value, expireSeconds(ttl))
}

func (c *CacheProvider) Del(key string) {
	c.cache.Del(unsafeStringToBytes(key))
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool)                { return nil, false }
func (n *noopCache) Set(_ string, _ []byte)                     {}
func (n *noopCache) SetTTL(_ string, _ []byte, _ time.Duration) {}
func (n *noopCache) Del(_ string)                               {}
