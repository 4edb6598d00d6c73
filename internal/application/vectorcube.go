package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geodb-openeo/internal/cache"
	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// Default capacities of the per-cube caches.
const (
	DefaultDimensionCacheSize = 64
	DefaultPageCacheSize      = 256
	DefaultFeatureCacheSize   = 1024
)

// CubeOptions configures the caches of a vector cube.
type CubeOptions struct {
	DimensionCacheSize int
	PageCacheSize      int
	FeatureCacheSize   int
	Metrics            output.MetricsCollector
}

func (o CubeOptions) withDefaults() CubeOptions {
	if o.DimensionCacheSize <= 0 {
		o.DimensionCacheSize = DefaultDimensionCacheSize
	}
	if o.PageCacheSize <= 0 {
		o.PageCacheSize = DefaultPageCacheSize
	}
	if o.FeatureCacheSize <= 0 {
		o.FeatureCacheSize = DefaultFeatureCacheSize
	}
	if o.Metrics == nil {
		o.Metrics = &output.NoOpMetrics{}
	}
	return o
}

type pageKey struct {
	limit    int
	offset   int
	withSTAC bool
}

type memo[T any] struct {
	value T
	set   bool
}

// VectorCube is a read-only view of one collection. Every accessor asks
// the data source at most once per distinct argument and keeps the
// result for the lifetime of the cube. Errors are not cached.
//
// Returned slices and features are shared with the cache and must not be
// modified by callers.
type VectorCube struct {
	id      domain.CollectionID
	source  output.DataSource
	metrics output.MetricsCollector

	mu            sync.Mutex
	srid          memo[int]
	featureCount  memo[int]
	bbox          memo[domain.BBox]
	geometryTypes memo[[]string]
	timeDimName   memo[string]
	hasTimeDim    bool
	metadata      map[bool]*domain.CollectionMetadata

	vectorDims   *cache.LRU[domain.BBoxKey, []*geojson.Geometry]
	verticalDims *cache.LRU[domain.BBoxKey, []any]
	timeDims     *cache.LRU[domain.BBoxKey, []time.Time]
	pages        *cache.LRU[pageKey, []*domain.Feature]
	features     *cache.LRU[string, *domain.Feature]
}

// NewVectorCube creates a cube over a data source.
func NewVectorCube(id domain.CollectionID, source output.DataSource, opts CubeOptions) *VectorCube {
	opts = opts.withDefaults()
	return &VectorCube{
		id:           id,
		source:       source,
		metrics:      opts.Metrics,
		metadata:     make(map[bool]*domain.CollectionMetadata, 2),
		vectorDims:   cache.MustLRU[domain.BBoxKey, []*geojson.Geometry](opts.DimensionCacheSize),
		verticalDims: cache.MustLRU[domain.BBoxKey, []any](opts.DimensionCacheSize),
		timeDims:     cache.MustLRU[domain.BBoxKey, []time.Time](opts.DimensionCacheSize),
		pages:        cache.MustLRU[pageKey, []*domain.Feature](opts.PageCacheSize),
		features:     cache.MustLRU[string, *domain.Feature](opts.FeatureCacheSize),
	}
}

// ID returns the external id, "database~name".
func (vc *VectorCube) ID() string {
	return vc.id.String()
}

// CollectionID returns the collection identifier.
func (vc *VectorCube) CollectionID() domain.CollectionID {
	return vc.id
}

// SRID returns the spatial reference id.
func (vc *VectorCube) SRID(ctx context.Context) (int, error) {
	return memoize(vc, &vc.srid, func() (int, error) { return vc.source.SRID(ctx) })
}

// FeatureCount returns the total number of features.
func (vc *VectorCube) FeatureCount(ctx context.Context) (int, error) {
	return memoize(vc, &vc.featureCount, func() (int, error) { return vc.source.FeatureCount(ctx) })
}

// BBox returns the bounding box of the whole cube in EPSG:4326.
func (vc *VectorCube) BBox(ctx context.Context) (domain.BBox, error) {
	return memoize(vc, &vc.bbox, func() (domain.BBox, error) { return vc.source.VectorCubeBBox(ctx) })
}

// GeometryTypes returns the geometry types of the collection.
func (vc *VectorCube) GeometryTypes(ctx context.Context) ([]string, error) {
	return memoize(vc, &vc.geometryTypes, func() ([]string, error) { return vc.source.GeometryTypes(ctx) })
}

// TimeDimName returns the name of the time column, if any.
func (vc *VectorCube) TimeDimName(ctx context.Context) (string, bool, error) {
	vc.mu.Lock()
	if vc.timeDimName.set {
		name, ok := vc.timeDimName.value, vc.hasTimeDim
		vc.mu.Unlock()
		return name, ok, nil
	}
	vc.mu.Unlock()

	name, ok, err := vc.source.TimeDimName(ctx)
	if err != nil {
		return "", false, err
	}

	vc.mu.Lock()
	vc.timeDimName = memo[string]{value: name, set: true}
	vc.hasTimeDim = ok
	vc.mu.Unlock()
	return name, ok, nil
}

// Metadata returns the collection metadata, memoized per full flag.
func (vc *VectorCube) Metadata(ctx context.Context, full bool) (*domain.CollectionMetadata, error) {
	vc.mu.Lock()
	if m, ok := vc.metadata[full]; ok {
		vc.mu.Unlock()
		return m, nil
	}
	vc.mu.Unlock()

	m, err := vc.source.Metadata(ctx, full)
	if err != nil {
		return nil, err
	}

	vc.mu.Lock()
	vc.metadata[full] = m
	vc.mu.Unlock()
	return m, nil
}

// VectorDim returns the geometries, optionally restricted to bbox.
func (vc *VectorCube) VectorDim(ctx context.Context, bbox *domain.BBox) ([]*geojson.Geometry, error) {
	return dimension(vc, "vector_dim", vc.vectorDims, domain.KeyOf(bbox), func() ([]*geojson.Geometry, error) {
		return vc.source.VectorDim(ctx, bbox)
	})
}

// VerticalDim returns the vertical dimension values, or nil.
func (vc *VectorCube) VerticalDim(ctx context.Context, bbox *domain.BBox) ([]any, error) {
	return dimension(vc, "vertical_dim", vc.verticalDims, domain.KeyOf(bbox), func() ([]any, error) {
		return vc.source.VerticalDim(ctx, bbox)
	})
}

// TimeDim returns the time dimension values, or nil.
func (vc *VectorCube) TimeDim(ctx context.Context, bbox *domain.BBox) ([]time.Time, error) {
	return dimension(vc, "time_dim", vc.timeDims, domain.KeyOf(bbox), func() ([]time.Time, error) {
		return vc.source.TimeDim(ctx, bbox)
	})
}

// LoadFeatures returns a page of features. Pages are cached per limit,
// offset and STAC flag.
func (vc *VectorCube) LoadFeatures(ctx context.Context, limit, offset int, withSTAC bool) ([]*domain.Feature, error) {
	key := pageKey{limit: limit, offset: offset, withSTAC: withSTAC}
	return dimension(vc, "features", vc.pages, key, func() ([]*domain.Feature, error) {
		return vc.source.LoadFeatures(ctx, output.FeatureQuery{
			Limit:        limit,
			Offset:       offset,
			WithSTACInfo: withSTAC,
		})
	})
}

// Feature returns a single feature by id. Cached pages are searched
// before the data source is asked.
func (vc *VectorCube) Feature(ctx context.Context, featureID string) (*domain.Feature, error) {
	vc.mu.Lock()
	for _, page := range vc.pages.Values() {
		for _, f := range page {
			if f.ID == featureID {
				vc.mu.Unlock()
				vc.metrics.IncCacheLookup("feature", true)
				return f, nil
			}
		}
	}
	if f, ok := vc.features.Get(featureID); ok {
		vc.mu.Unlock()
		vc.metrics.IncCacheLookup("feature", true)
		return f, nil
	}
	vc.mu.Unlock()
	vc.metrics.IncCacheLookup("feature", false)

	found, err := vc.source.LoadFeatures(ctx, output.FeatureQuery{FeatureID: featureID, WithSTACInfo: true})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("feature %q in collection %s: %w", featureID, vc.ID(), domain.ErrFeatureNotFound)
	}

	vc.mu.Lock()
	vc.features.Insert(featureID, found[0])
	vc.mu.Unlock()
	return found[0], nil
}

// AllFeatures loads every feature without STAC info.
func (vc *VectorCube) AllFeatures(ctx context.Context) ([]*domain.Feature, error) {
	count, err := vc.FeatureCount(ctx)
	if err != nil {
		return nil, err
	}
	return vc.LoadFeatures(ctx, count, 0, false)
}

// FeaturesByGeometry groups all features sharing the same geometry, in
// the order the geometries first appear.
func (vc *VectorCube) FeaturesByGeometry(ctx context.Context) ([][]*domain.Feature, error) {
	features, err := vc.AllFeatures(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var groups [][]*domain.Feature
	for _, f := range features {
		key := ""
		if g := f.OrbGeometry(); g != nil {
			key = wkt.MarshalString(g)
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	return groups, nil
}

// ToGeoJSON returns all features as a feature collection.
func (vc *VectorCube) ToGeoJSON(ctx context.Context) (*domain.FeatureCollection, error) {
	features, err := vc.AllFeatures(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewFeatureCollection(features), nil
}

// CachedPages returns the number of cached feature pages.
func (vc *VectorCube) CachedPages() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.pages.Len()
}

func memoize[T any](vc *VectorCube, m *memo[T], load func() (T, error)) (T, error) {
	vc.mu.Lock()
	if m.set {
		v := m.value
		vc.mu.Unlock()
		return v, nil
	}
	vc.mu.Unlock()

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	vc.mu.Lock()
	*m = memo[T]{value: v, set: true}
	vc.mu.Unlock()
	return v, nil
}

func dimension[K comparable, V any](vc *VectorCube, name string, c *cache.LRU[K, V], key K, load func() (V, error)) (V, error) {
	vc.mu.Lock()
	if v, ok := c.Get(key); ok {
		vc.mu.Unlock()
		vc.metrics.IncCacheLookup(name, true)
		return v, nil
	}
	vc.mu.Unlock()
	vc.metrics.IncCacheLookup(name, false)

	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}

	vc.mu.Lock()
	c.Insert(key, v)
	vc.mu.Unlock()
	return v, nil
}
