package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

const (
	hamburgWKT    = "POLYGON((9 52, 9 54, 11 54, 11 52, 10 53, 9.5 53.4, 9.2 52.1, 9 52))"
	paderbornWKT  = "POLYGON((8.7 51.3, 8.7 51.8, 8.8 51.8, 8.8 51.3, 8.7 51.3))"
	mockTimestamp = "1970-01-01T00:01:00Z"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWKT(s string) orb.Geometry {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		panic(err)
	}
	return g
}

// mockDataSource serves two cities. A page with limit 1 yields
// Paderborn, a bbox restricted source yields Hamburg, anything else
// yields both.
type mockDataSource struct {
	mu    sync.Mutex
	calls map[string]int

	bbox        *domain.BBox
	features    []*domain.Feature
	timeDimName string
	hasTimeDim  bool
	loadErr     error
}

func newMockDataSource(bbox *domain.BBox) *mockDataSource {
	hh := domain.NewFeature("0", mustWKT(hamburgWKT), map[string]any{
		"datetime":   mockTimestamp,
		"name":       "hamburg",
		"population": float64(1000),
	}, false)
	pb := domain.NewFeature("1", mustWKT(paderbornWKT), map[string]any{
		"datetime":   mockTimestamp,
		"name":       "paderborn",
		"population": float64(100),
	}, false)
	return &mockDataSource{
		calls:       make(map[string]int),
		bbox:        bbox,
		features:    []*domain.Feature{hh, pb},
		timeDimName: "time",
		hasTimeDim:  true,
	}
}

func (m *mockDataSource) count(name string) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
}

func (m *mockDataSource) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockDataSource) VectorDim(_ context.Context, _ *domain.BBox) ([]*geojson.Geometry, error) {
	m.count("VectorDim")
	return []*geojson.Geometry{
		geojson.NewGeometry(mustWKT(hamburgWKT)),
		geojson.NewGeometry(mustWKT(paderbornWKT)),
	}, nil
}

func (m *mockDataSource) SRID(_ context.Context) (int, error) {
	m.count("SRID")
	return 3246, nil
}

func (m *mockDataSource) FeatureCount(_ context.Context) (int, error) {
	m.count("FeatureCount")
	return len(m.features), nil
}

func (m *mockDataSource) TimeDim(_ context.Context, _ *domain.BBox) ([]time.Time, error) {
	m.count("TimeDim")
	return nil, nil
}

func (m *mockDataSource) TimeDimName(_ context.Context) (string, bool, error) {
	m.count("TimeDimName")
	return m.timeDimName, m.hasTimeDim, nil
}

func (m *mockDataSource) VerticalDim(_ context.Context, _ *domain.BBox) ([]any, error) {
	m.count("VerticalDim")
	return nil, nil
}

func (m *mockDataSource) LoadFeatures(_ context.Context, q output.FeatureQuery) ([]*domain.Feature, error) {
	m.count("LoadFeatures")
	if m.loadErr != nil {
		return nil, m.loadErr
	}

	decorate := func(f *domain.Feature) *domain.Feature {
		c := f.Clone()
		if q.WithSTACInfo {
			c.StacVersion = domain.STACVersion
			c.StacExtensions = []string{domain.STACItemSchema}
		}
		return c
	}

	if q.FeatureID != "" {
		for _, f := range m.features {
			if f.ID == q.FeatureID {
				return []*domain.Feature{decorate(f)}, nil
			}
		}
		return []*domain.Feature{}, nil
	}

	var selected []*domain.Feature
	switch {
	case q.Limit == 1 && len(m.features) > 1:
		selected = m.features[1:2]
	case m.bbox != nil:
		selected = m.features[:1]
	default:
		selected = m.features
	}
	out := make([]*domain.Feature, 0, len(selected))
	for _, f := range selected {
		out = append(out, decorate(f))
	}
	return out, nil
}

func (m *mockDataSource) VectorCubeBBox(_ context.Context) (domain.BBox, error) {
	m.count("VectorCubeBBox")
	return domain.BBoxFromBound(mustWKT(hamburgWKT).Bound()), nil
}

func (m *mockDataSource) GeometryTypes(_ context.Context) ([]string, error) {
	m.count("GeometryTypes")
	return []string{"Polygon"}, nil
}

func (m *mockDataSource) Metadata(_ context.Context, _ bool) (*domain.CollectionMetadata, error) {
	m.count("Metadata")
	return &domain.CollectionMetadata{
		Title: "something",
		Extent: domain.Extent{
			Spatial:  domain.SpatialExtent{BBox: [][]float64{{9, 52, 11, 54}}, CRS: domain.CRS84},
			Temporal: domain.OpenInterval(),
		},
		Summaries: map[string]any{"column_names": "col_names"},
	}, nil
}

// mockProvider hands out mock data sources for a fixed set of keys.
type mockProvider struct {
	mu      sync.Mutex
	keys    []domain.CollectionID
	missing map[domain.CollectionID]bool
	empty   map[domain.CollectionID]bool
	sources []*mockDataSource
	keysErr error
	crs     []int
}

func newMockProvider(names ...string) *mockProvider {
	p := &mockProvider{
		missing: make(map[domain.CollectionID]bool),
		empty:   make(map[domain.CollectionID]bool),
	}
	for _, name := range names {
		p.keys = append(p.keys, domain.NewCollectionID("db", name))
	}
	return p
}

func (p *mockProvider) CollectionKeys(_ context.Context) ([]domain.CollectionID, error) {
	if p.keysErr != nil {
		return nil, p.keysErr
	}
	return p.keys, nil
}

func (p *mockProvider) DataSource(_ context.Context, id domain.CollectionID, bbox *domain.BBox) (output.DataSource, error) {
	if p.missing[id] {
		return nil, domain.ErrCollectionNotFound
	}
	source := newMockDataSource(bbox)
	if p.empty[id] {
		source.features = nil
	}
	p.mu.Lock()
	p.sources = append(p.sources, source)
	p.mu.Unlock()
	return source, nil
}

func (p *mockProvider) TransformBBox(_ context.Context, _ domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error) {
	p.mu.Lock()
	p.crs = append(p.crs, crs)
	p.mu.Unlock()
	return bbox, nil
}

func (p *mockProvider) sourceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

func newTestCatalog(provider output.VectorCubeProvider) *CatalogService {
	factory := func(_ context.Context, _ string) (output.VectorCubeProvider, error) {
		return provider, nil
	}
	connections := NewConnectionCache(factory, &output.NoOpMetrics{}, discardLogger(), ConnectionCacheConfig{})
	catalog, err := NewCatalogService(connections, &output.NoOpMetrics{}, discardLogger(), CatalogServiceConfig{})
	if err != nil {
		panic(err)
	}
	return catalog
}

// mockRepository implements output.GeoPackageRepository for testing.
type mockRepository struct {
	packages map[string]*domain.GeoPackage
	openErr  error
	closed   []string
}

func (m *mockRepository) Open(_ context.Context, path string) (*domain.GeoPackage, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.packages != nil {
		if pkg, ok := m.packages[path]; ok {
			return pkg, nil
		}
	}
	return &domain.GeoPackage{
		ID:   derivePackageID(path),
		Name: path,
		Path: path,
	}, nil
}

func (m *mockRepository) Close(_ context.Context, packageID string) error {
	m.closed = append(m.closed, packageID)
	return nil
}

func (m *mockRepository) GetLayers(_ context.Context, packageID string) ([]domain.Layer, error) {
	for _, pkg := range m.packages {
		if pkg.ID == packageID {
			return pkg.Layers, nil
		}
	}
	return nil, domain.ErrPackageNotFound
}

func (m *mockRepository) DataSource(_ context.Context, _, _ string, bbox *domain.BBox) (output.DataSource, error) {
	return newMockDataSource(bbox), nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloads   []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) setObjects(objects []output.StorageObject) {
	m.mu.Lock()
	m.objects = objects
	m.mu.Unlock()
}

func (m *mockStorage) Download(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, key)
	return m.downloadErr
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockTransformer implements output.BBoxTransformer for testing. It
// shifts boxes by the difference of the two SRIDs so tests can tell a
// transformed box from the original.
type mockTransformer struct {
	err   error
	calls int
}

func (m *mockTransformer) TransformBBox(_ context.Context, bbox domain.BBox, sourceSRID, targetSRID int) (domain.BBox, error) {
	m.calls++
	if m.err != nil {
		return domain.BBox{}, m.err
	}
	d := float64(targetSRID - sourceSRID)
	return domain.NewBBox(bbox.MinX+d, bbox.MinY+d, bbox.MaxX+d, bbox.MaxY+d), nil
}
