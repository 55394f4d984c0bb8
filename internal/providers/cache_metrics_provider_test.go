package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type cacheMetricsTestMetrics struct {
	noopMetrics
	hits   map[string]int
	misses map[string]int
}

func newCacheMetricsTestMetrics() *cacheMetricsTestMetrics {
	return &cacheMetricsTestMetrics{hits: map[string]int{}, misses: map[string]int{}}
}

func (m *cacheMetricsTestMetrics) IncCacheHits(ns string)   { m.hits[ns]++ }
func (m *cacheMetricsTestMetrics) IncCacheMisses(ns string) { m.misses[ns]++ }

type cacheMetricsTestInner struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

func newCacheMetricsTestInner(data map[string][]byte) *cacheMetricsTestInner {
	return &cacheMetricsTestInner{data: data, ttls: map[string]time.Duration{}}
}

func (c *cacheMetricsTestInner) Get(key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}
func (c *cacheMetricsTestInner) Set(key string, value []byte) {
	c.data[key] = value
}
func (c *cacheMetricsTestInner) SetTTL(key string, value []byte, ttl time.Duration) {
	c.data[key] = value
	c.ttls[key] = ttl
}
func (c *cacheMetricsTestInner) Del(key string) {
	delete(c.data, key)
}

func TestMetricsCacheProvider_CountsPerNamespace(t *testing.T) {
	inner := newCacheMetricsTestInner(map[string][]byte{
		"profile:u1": []byte("{}"),
		"stats":      []byte("{}"),
	})
	metrics := newCacheMetricsTestMetrics()
	cache := &MetricsCacheProvider{inner: inner, metrics: metrics}

	cache.Get("profile:u1") // hit
	cache.Get("profile:u2") // miss
	cache.Get("profile:u1") // hit
	cache.Get("stats")      // hit
	cache.Get("unknown:x")  // miss

	assert.Equal(t, map[string]int{"profile": 2, "stats": 1}, metrics.hits)
	assert.Equal(t, map[string]int{"profile": 1, "unknown": 1}, metrics.misses)
}

func TestMetricsCacheProvider_WritesDelegate(t *testing.T) {
	inner := newCacheMetricsTestInner(map[string][]byte{"profile:u1": []byte("old")})
	metrics := newCacheMetricsTestMetrics()
	cache := &MetricsCacheProvider{inner: inner, metrics: metrics}

	cache.Set("profile:u2", []byte("v2"))
	cache.SetTTL("stats", []byte("s"), 2*time.Second)
	cache.Del("profile:u1")

	assert.Equal(t, []byte("v2"), inner.data["profile:u2"])
	assert.Equal(t, 2*time.Second, inner.ttls["stats"])
	assert.NotContains(t, inner.data, "profile:u1")
	assert.Empty(t, metrics.hits)
	assert.Empty(t, metrics.misses)
}

func TestNewInstrumentedCacheProvider_DisabledNotWrapped(t *testing.T) {
	c := NewInstrumentedCacheProvider(cacheConfig(false, 1, time.Minute), &cacheTestLogger{}, newCacheMetricsTestMetrics())
	assert.IsType(t, &noopCache{}, c)
}

func TestNewInstrumentedCacheProvider_ZeroSizeNotWrapped(t *testing.T) {
	c := NewInstrumentedCacheProvider(cacheConfig(true, 0, time.Minute), &cacheTestLogger{}, newCacheMetricsTestMetrics())
	assert.IsType(t, &noopCache{}, c)
}

func TestNewInstrumentedCacheProvider_EnabledWrapped(t *testing.T) {
	metrics := newCacheMetricsTestMetrics()
	c := NewInstrumentedCacheProvider(cacheConfig(true, 1, time.Minute), &cacheTestLogger{}, metrics)
	assert.IsType(t, &MetricsCacheProvider{}, c)

	c.Set("profile:u1", []byte("{}"))
	_, ok := c.Get("profile:u1")
	assert.True(t, ok)
	assert.Equal(t, 1, metrics.hits["profile"])
}
