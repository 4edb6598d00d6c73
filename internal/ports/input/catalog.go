// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// CatalogService defines the primary port for collection discovery.
// The access token is passed through to the remote store unchanged.
type CatalogService interface {
	// Collections returns a page of collections with pagination links.
	Collections(ctx context.Context, token, baseURL string, limit, offset int) (*domain.CollectionsDocument, error)

	// Collection returns a single collection. With ensureExists set, an id
	// missing from the collection listing yields ErrCollectionNotFound.
	Collection(ctx context.Context, token, baseURL string, id domain.CollectionID, full, ensureExists bool) (*domain.CollectionDocument, error)

	// CollectionItems returns a page of items, optionally within bbox.
	CollectionItems(ctx context.Context, token, baseURL string, id domain.CollectionID, limit, offset int, bbox *domain.BBox) (*domain.ItemsDocument, error)

	// CollectionItem returns a single item.
	CollectionItem(ctx context.Context, token, baseURL string, id domain.CollectionID, featureID string) (*domain.ItemDocument, error)

	// TransformBBox converts bbox from crs into the collection's SRID.
	TransformBBox(ctx context.Context, token string, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error)
}
