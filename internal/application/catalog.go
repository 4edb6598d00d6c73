package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/cache"
	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// DefaultCubeCacheSize is the number of vector cubes kept in memory.
const DefaultCubeCacheSize = 1024

type cubeKey struct {
	token string
	id    domain.CollectionID
	bbox  domain.BBoxKey
}

// CatalogService assembles STAC documents from vector cubes.
type CatalogService struct {
	connections *ConnectionCache
	cubes       *cache.Synchronized[cubeKey, *VectorCube]
	cubeOpts    CubeOptions
	metrics     output.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// CatalogServiceConfig holds configuration for the catalog service.
type CatalogServiceConfig struct {
	CubeCacheSize int
	Cube          CubeOptions
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(
	connections *ConnectionCache,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg CatalogServiceConfig,
) (*CatalogService, error) {
	if cfg.CubeCacheSize == 0 {
		cfg.CubeCacheSize = DefaultCubeCacheSize
	}
	if cfg.Cube.Metrics == nil {
		cfg.Cube.Metrics = metrics
	}

	cubes, err := cache.NewSynchronized[cubeKey, *VectorCube](cfg.CubeCacheSize)
	if err != nil {
		return nil, err
	}

	return &CatalogService{
		connections: connections,
		cubes:       cubes,
		cubeOpts:    cfg.Cube,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// VectorCube returns the cube for a collection and optional bbox, reusing
// a cached one when the same token asked before.
func (s *CatalogService) VectorCube(ctx context.Context, token string, id domain.CollectionID, bbox *domain.BBox) (*VectorCube, error) {
	key := cubeKey{token: token, id: id, bbox: domain.KeyOf(bbox)}
	if vc, ok := s.cubes.Get(key); ok {
		s.metrics.IncCacheLookup("cube", true)
		return vc, nil
	}
	s.metrics.IncCacheLookup("cube", false)

	provider, err := s.connections.Provider(ctx, token)
	if err != nil {
		return nil, err
	}
	source, err := provider.DataSource(ctx, id, bbox)
	if err != nil {
		return nil, err
	}

	vc := NewVectorCube(id, source, s.cubeOpts)
	s.cubes.Insert(key, vc)
	s.metrics.SetCachedCubes(s.cubes.Len())
	return vc, nil
}

// Reset drops all cached cubes.
func (s *CatalogService) Reset() {
	s.cubes.Clear()
	s.metrics.SetCachedCubes(0)
}

// CachedCubes returns the number of cubes held in memory.
func (s *CatalogService) CachedCubes() int {
	return s.cubes.Len()
}

// CollectionKeys lists the collections visible to token.
func (s *CatalogService) CollectionKeys(ctx context.Context, token string) ([]domain.CollectionID, error) {
	provider, err := s.connections.Provider(ctx, token)
	if err != nil {
		return nil, err
	}
	return provider.CollectionKeys(ctx)
}

// Collections implements input.CatalogService. Collections whose data
// source reports them as not found are skipped and the page is extended by
// one for each. Empty collections are listed; any other error fails.
func (s *CatalogService) Collections(ctx context.Context, token, baseURL string, limit, offset int) (*domain.CollectionsDocument, error) {
	keys, err := s.CollectionKeys(ctx, token)
	if err != nil {
		return nil, err
	}

	end := len(keys)
	if limit < len(keys)-offset {
		end = offset + limit
	}

	collections := []*domain.CollectionDocument{}
	for index := offset; index < end && index < len(keys); index++ {
		id := keys[index]
		doc, err := s.collection(ctx, token, baseURL, id, false)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("skipped missing collection", "collection", id.String(), "error", err)
			end++
			continue
		}
		if err != nil {
			return nil, err
		}
		collections = append(collections, doc)
		s.logger.Debug("loaded collection", "collection", id.String())
	}

	return &domain.CollectionsDocument{
		Collections: collections,
		Links:       CollectionsLinks(limit, offset, baseURL+"/collections", len(keys)),
	}, nil
}

// Collection implements input.CatalogService.
func (s *CatalogService) Collection(ctx context.Context, token, baseURL string, id domain.CollectionID, full, ensureExists bool) (*domain.CollectionDocument, error) {
	if ensureExists {
		keys, err := s.CollectionKeys(ctx, token)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(keys, id) {
			return nil, collectionNotFound(id)
		}
	}
	return s.collection(ctx, token, baseURL, id, full)
}

func (s *CatalogService) collection(ctx context.Context, token, baseURL string, id domain.CollectionID, full bool) (*domain.CollectionDocument, error) {
	vc, err := s.VectorCube(ctx, token, id, nil)
	if err != nil {
		return nil, err
	}
	return CollectionDocument(ctx, vc, baseURL, full)
}

// CollectionItems implements input.CatalogService.
func (s *CatalogService) CollectionItems(ctx context.Context, token, baseURL string, id domain.CollectionID, limit, offset int, bbox *domain.BBox) (*domain.ItemsDocument, error) {
	if limit < 0 {
		return nil, &domain.ValidationError{Field: "limit", Value: limit, Constraint: ">= 0", Message: "limit must not be negative"}
	}
	if offset < 0 {
		return nil, &domain.ValidationError{Field: "offset", Value: offset, Constraint: ">= 0", Message: "offset must not be negative"}
	}

	vc, err := s.VectorCube(ctx, token, id, bbox)
	if err != nil {
		return nil, err
	}
	features, err := vc.LoadFeatures(ctx, limit, offset, true)
	if err != nil {
		return nil, err
	}
	count, err := vc.FeatureCount(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.ItemDocument, 0, len(features))
	for _, f := range features {
		fixed := f.Clone()
		FixTime(fixed)
		items = append(items, ItemDocument(vc.ID(), fixed, baseURL))
	}
	return ItemsDocument(vc.ID(), items, baseURL, limit, offset, count, s.now()), nil
}

// CollectionItem implements input.CatalogService.
func (s *CatalogService) CollectionItem(ctx context.Context, token, baseURL string, id domain.CollectionID, featureID string) (*domain.ItemDocument, error) {
	vc, err := s.VectorCube(ctx, token, id, nil)
	if err != nil {
		return nil, err
	}
	f, err := vc.Feature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	fixed := f.Clone()
	FixTime(fixed)
	return ItemDocument(vc.ID(), fixed, baseURL), nil
}

// TransformBBox implements input.CatalogService.
func (s *CatalogService) TransformBBox(ctx context.Context, token string, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error) {
	provider, err := s.connections.Provider(ctx, token)
	if err != nil {
		return domain.BBox{}, err
	}
	return provider.TransformBBox(ctx, id, bbox, crs)
}

func collectionNotFound(id domain.CollectionID) error {
	return fmt.Errorf("collection %s: %w", id, domain.ErrCollectionNotFound)
}
