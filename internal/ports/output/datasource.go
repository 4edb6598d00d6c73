package output

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// FeatureQuery selects features from a data source. A non-empty FeatureID
// selects that single feature and ignores Limit and Offset.
type FeatureQuery struct {
	Limit        int
	Offset       int
	FeatureID    string
	WithSTACInfo bool
}

// DataSource answers dimension, feature and metadata queries for one
// collection. Implementations must be deterministic for identical
// arguments during their lifetime. A nil bbox means the whole collection.
type DataSource interface {
	// VectorDim returns all geometries, or those intersecting bbox.
	VectorDim(ctx context.Context, bbox *domain.BBox) ([]*geojson.Geometry, error)

	// SRID returns the spatial reference id of the collection.
	SRID(ctx context.Context) (int, error)

	// FeatureCount returns the total number of rows, ignoring any bbox.
	FeatureCount(ctx context.Context) (int, error)

	// TimeDim returns the time dimension values, or nil if there is none.
	TimeDim(ctx context.Context, bbox *domain.BBox) ([]time.Time, error)

	// TimeDimName returns the name of the time column, if any.
	TimeDimName(ctx context.Context) (string, bool, error)

	// VerticalDim returns the vertical dimension values, or nil.
	VerticalDim(ctx context.Context, bbox *domain.BBox) ([]any, error)

	// LoadFeatures returns a page of features, or the single feature named
	// by q.FeatureID. An unknown feature yields an empty slice.
	LoadFeatures(ctx context.Context, q FeatureQuery) ([]*domain.Feature, error)

	// VectorCubeBBox returns the bounding box of all geometries in EPSG:4326.
	VectorCubeBBox(ctx context.Context) (domain.BBox, error)

	// GeometryTypes returns the geometry type names found in the collection.
	GeometryTypes(ctx context.Context) ([]string, error)

	// Metadata returns the collection metadata. With full set, the exact
	// bbox and temporal extent are computed.
	Metadata(ctx context.Context, full bool) (*domain.CollectionMetadata, error)
}

// VectorCubeProvider resolves collection ids to data sources.
type VectorCubeProvider interface {
	// CollectionKeys lists all collections visible to the provider.
	CollectionKeys(ctx context.Context) ([]domain.CollectionID, error)

	// DataSource returns the data source of a collection. Features loaded
	// from it are restricted to bbox when one is given.
	DataSource(ctx context.Context, id domain.CollectionID, bbox *domain.BBox) (DataSource, error)

	// TransformBBox converts bbox from crs into the collection's SRID.
	TransformBBox(ctx context.Context, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error)
}

// ProviderFactory creates a provider acting on behalf of an access token.
type ProviderFactory func(ctx context.Context, token string) (VectorCubeProvider, error)

// BBoxTransformer reprojects bounding boxes between reference systems.
type BBoxTransformer interface {
	// TransformBBox converts bbox from sourceSRID to targetSRID.
	TransformBBox(ctx context.Context, bbox domain.BBox, sourceSRID, targetSRID int) (domain.BBox, error)
}
