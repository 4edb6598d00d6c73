// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage is the source the GeoPackage provider syncs its packages
// from. Keys are relative to the configured bucket, container, base URL or
// directory, and only keys ending in ".gpkg" are ever listed.
type ObjectStorage interface {
	// List returns the packages currently offered by the source. The
	// registry compares the result with the loaded packages on every sync.
	List(ctx context.Context) ([]StorageObject, error)

	// Download copies a package into the local package directory. dest is
	// written atomically so a half downloaded file is never opened.
	Download(ctx context.Context, key string, dest string) error

	// GetReader streams a package without storing it locally.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the source still offers a package.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject is a package entry of a sync source.
type StorageObject struct {
	Key          string // path below the source root, e.g. "cities.gpkg"
	Size         int64  // zero when the source does not report it
	LastModified int64  // unix seconds, zero when unknown
	ETag         string // empty for local and HTTP index sources
}

// StorageType selects the sync source of the GeoPackage provider.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
