// Package storage provides the object storage backends GeoPackages are
// synced from.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// PackageExt is the file extension of listed objects.
const PackageExt = ".gpkg"

// Config selects and configures one storage backend.
type Config struct {
	Type      output.StorageType
	LocalPath string
	S3        S3Config
	Azure     AzureConfig
	HTTP      HTTPConfig
}

// New creates the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (output.ObjectStorage, error) {
	switch cfg.Type {
	case output.StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath), nil
	case output.StorageTypeS3:
		return NewS3Storage(ctx, cfg.S3)
	case output.StorageTypeAzure:
		return NewAzureStorage(cfg.Azure)
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, &domain.ConfigError{
			Field:   "geopackage.storage.type",
			Message: fmt.Sprintf("unknown storage type %q", cfg.Type),
		}
	}
}

func isPackageKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), PackageExt)
}

// relativeKey strips the configured prefix from an object key.
func relativeKey(prefix, key string) string {
	key = strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(key, "/")
}

// prefixedKey joins prefix and key with a single slash.
func prefixedKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// writeFile streams r into dest through a temporary file in the same
// directory, so a watcher never sees a partial package.
func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func storageError(op, key string, err error) error {
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
