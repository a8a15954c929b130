package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultDriverCacheSize bounds the number of vertices DriverCache holds.
const DefaultDriverCacheSize = 10_000

var (
	driverCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpgraph_cache_hits_total",
		Help: "Read-through driver cache hits by vertex label",
	}, []string{"label"})

	driverCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpgraph_cache_misses_total",
		Help: "Read-through driver cache misses by vertex label",
	}, []string{"label"})
)

// VertexGetter is the slice of the driver contract DriverCache reads
// through.
type VertexGetter interface {
	GetVertex(ctx context.Context, label graph.VertexLabel, fullName string) (*graph.Vertex, error)
}

// Stats counts DriverCache lookups since construction or the last Clear.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// DriverCache is a bounded read-through cache over VertexGetter for the
// vertices the pipeline resolves by name. Absent vertices are not cached.
// It is used from the consumer goroutine only.
type DriverCache struct {
	src   VertexGetter
	cache *ristretto.Cache[string, *graph.Vertex]
	stats Stats
}

// NewDriverCache returns a cache holding at most size vertices. Sizes below
// 1 select DefaultDriverCacheSize.
func NewDriverCache(src VertexGetter, size int64) (*DriverCache, error) {
	if size < 1 {
		size = DefaultDriverCacheSize
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *graph.Vertex]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: new driver cache: %w", err)
	}
	return &DriverCache{src: src, cache: c}, nil
}

func cacheKey(label graph.VertexLabel, fullName string) string {
	return string(label) + "\x00" + fullName
}

// TryGet returns the vertex with label and fullName from the cache or the
// driver, or nil when neither has it.
func (c *DriverCache) TryGet(ctx context.Context, label graph.VertexLabel, fullName string) (*graph.Vertex, error) {
	key := cacheKey(label, fullName)
	if v, ok := c.cache.Get(key); ok {
		c.stats.Hits++
		driverCacheHits.WithLabelValues(string(label)).Inc()
		return v, nil
	}
	c.stats.Misses++
	driverCacheMisses.WithLabelValues(string(label)).Inc()

	v, err := c.src.GetVertex(ctx, label, fullName)
	if err != nil {
		return nil, fmt.Errorf("cache: get %s %s: %w", label, fullName, err)
	}
	if v == nil {
		return nil, nil
	}
	c.cache.Set(key, v, 1)
	c.cache.Wait()
	return v, nil
}

func (c *DriverCache) TryGetMethod(ctx context.Context, fullName string) (*graph.Vertex, error) {
	return c.TryGet(ctx, graph.LabelMethod, fullName)
}

func (c *DriverCache) TryGetTypeDecl(ctx context.Context, fullName string) (*graph.Vertex, error) {
	return c.TryGet(ctx, graph.LabelTypeDecl, fullName)
}

func (c *DriverCache) TryGetFile(ctx context.Context, name string) (*graph.Vertex, error) {
	return c.TryGet(ctx, graph.LabelFile, name)
}

func (c *DriverCache) TryGetNamespaceBlock(ctx context.Context, fullName string) (*graph.Vertex, error) {
	return c.TryGet(ctx, graph.LabelNamespaceBlock, fullName)
}

// Put seeds the cache with a vertex that was just written.
func (c *DriverCache) Put(v *graph.Vertex) {
	if !v.Written() || v.FullName() == "" {
		return
	}
	c.cache.Set(cacheKey(v.Label, v.FullName()), v, 1)
	c.cache.Wait()
}

// Forget drops the entry for (label, fullName), e.g. after a delete.
func (c *DriverCache) Forget(label graph.VertexLabel, fullName string) {
	c.cache.Del(cacheKey(label, fullName))
}

// Stats returns the lookup counters.
func (c *DriverCache) Stats() Stats { return c.stats }

// Clear empties the cache and resets the counters.
func (c *DriverCache) Clear() {
	c.cache.Clear()
	c.stats = Stats{}
}

// Close releases the cache's background goroutines.
func (c *DriverCache) Close() {
	c.cache.Close()
}
