package output

import (
	"context"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// GeoPackageRepository defines the secondary port for GeoPackage data access.
type GeoPackageRepository interface {
	// Open opens a GeoPackage file and returns its metadata.
	Open(ctx context.Context, path string) (*domain.GeoPackage, error)

	// Close closes a GeoPackage connection.
	Close(ctx context.Context, packageID string) error

	// GetLayers returns all layers in a GeoPackage.
	GetLayers(ctx context.Context, packageID string) ([]domain.Layer, error)

	// DataSource returns a data source for one layer.
	DataSource(ctx context.Context, packageID, layer string, bbox *domain.BBox) (DataSource, error)
}
