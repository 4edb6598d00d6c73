// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// PackageRegistry manages loaded GeoPackages and serves their layers as
// collections. It implements output.VectorCubeProvider.
type PackageRegistry struct {
	mu          sync.RWMutex
	packages    map[string]*domain.GeoPackage
	repo        output.GeoPackageRepository
	storage     output.ObjectStorage
	transformer output.BBoxTransformer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	localPath   string
	onChange    func()
}

// NewPackageRegistry creates a new package registry.
func NewPackageRegistry(
	repo output.GeoPackageRepository,
	storage output.ObjectStorage,
	transformer output.BBoxTransformer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
) *PackageRegistry {
	return &PackageRegistry{
		packages:    make(map[string]*domain.GeoPackage),
		repo:        repo,
		storage:     storage,
		transformer: transformer,
		metrics:     metrics,
		logger:      logger,
		localPath:   localPath,
	}
}

// OnChange registers a callback run after packages were loaded or
// unloaded.
func (r *PackageRegistry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// LoadPackage loads a GeoPackage from the given path.
func (r *PackageRegistry) LoadPackage(ctx context.Context, path string) error {
	r.logger.Info("loading package", "path", path)

	pkg, err := r.repo.Open(ctx, path)
	if err != nil {
		r.logger.Error("failed to open package", "path", path, "error", err)
		return err
	}
	pkg.LoadedAt = time.Now()

	r.mu.Lock()
	r.packages[pkg.ID] = pkg
	r.mu.Unlock()

	r.changed()
	r.logger.Info("package loaded", "id", pkg.ID, "layers", len(pkg.Layers))
	return nil
}

// ReloadPackage replaces a loaded package with the current file
// contents, or loads it if it was not loaded yet.
func (r *PackageRegistry) ReloadPackage(ctx context.Context, path string) error {
	if id := derivePackageID(path); r.IsLoaded(id) {
		if err := r.repo.Close(ctx, id); err != nil {
			return err
		}
		r.mu.Lock()
		delete(r.packages, id)
		r.mu.Unlock()
	}
	return r.LoadPackage(ctx, path)
}

// UnloadPackage unloads a GeoPackage.
func (r *PackageRegistry) UnloadPackage(ctx context.Context, packageID string) error {
	r.logger.Info("unloading package", "id", packageID)

	if err := r.repo.Close(ctx, packageID); err != nil {
		r.logger.Error("failed to close package", "id", packageID, "error", err)
		return err
	}

	r.mu.Lock()
	delete(r.packages, packageID)
	r.mu.Unlock()

	r.changed()
	return nil
}

// ListPackages returns all registered GeoPackages ordered by id.
func (r *PackageRegistry) ListPackages(_ context.Context) ([]domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packages := make([]domain.GeoPackage, 0, len(r.packages))
	for _, pkg := range r.packages {
		packages = append(packages, *pkg)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })
	return packages, nil
}

// GetPackage returns a specific GeoPackage by ID.
func (r *PackageRegistry) GetPackage(_ context.Context, id string) (*domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return pkg, nil
}

// IsLoaded returns true if a package with the given ID is already loaded.
func (r *PackageRegistry) IsLoaded(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.packages[packageID]
	return ok
}

// PackageCount returns the number of loaded packages.
func (r *PackageRegistry) PackageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}

// CollectionKeys implements output.VectorCubeProvider.
func (r *PackageRegistry) CollectionKeys(ctx context.Context) ([]domain.CollectionID, error) {
	packages, err := r.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	var keys []domain.CollectionID
	for i := range packages {
		keys = append(keys, packages[i].CollectionIDs()...)
	}
	return keys, nil
}

// DataSource implements output.VectorCubeProvider.
func (r *PackageRegistry) DataSource(ctx context.Context, id domain.CollectionID, bbox *domain.BBox) (output.DataSource, error) {
	if _, err := r.layer(ctx, id); err != nil {
		return nil, err
	}
	return r.repo.DataSource(ctx, id.Database, id.Name, bbox)
}

// TransformBBox implements output.VectorCubeProvider.
func (r *PackageRegistry) TransformBBox(ctx context.Context, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error) {
	layer, err := r.layer(ctx, id)
	if err != nil {
		return domain.BBox{}, err
	}
	if layer.SRID == crs {
		return bbox, nil
	}
	return r.transformer.TransformBBox(ctx, bbox, crs, layer.SRID)
}

func (r *PackageRegistry) layer(ctx context.Context, id domain.CollectionID) (*domain.Layer, error) {
	pkg, err := r.GetPackage(ctx, id.Database)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", id, domain.ErrCollectionNotFound)
	}
	layer, ok := pkg.GetLayer(id.Name)
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, domain.ErrCollectionNotFound)
	}
	return layer, nil
}

func (r *PackageRegistry) changed() {
	r.mu.RLock()
	count := len(r.packages)
	fn := r.onChange
	r.mu.RUnlock()

	r.metrics.SetPackagesLoaded(count)
	if fn != nil {
		fn()
	}
}

// LoadAll loads all GeoPackages from storage.
func (r *PackageRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all packages from storage")

	objects, err := r.storage.List(ctx)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		localPath := filepath.Join(r.localPath, obj.Key)
		if err := r.download(ctx, obj.Key, localPath); err != nil {
			r.logger.Error("failed to download package", "key", obj.Key, "error", err)
			continue
		}

		if err := r.LoadPackage(ctx, localPath); err != nil {
			r.logger.Error("failed to load package", "path", localPath, "error", err)
		}
	}

	return nil
}

func (r *PackageRegistry) download(ctx context.Context, key, dest string) error {
	start := time.Now()
	err := r.storage.Download(ctx, key, dest)
	r.metrics.IncStorageOperations("download", err == nil)
	r.metrics.ObserveStorageDuration("download", time.Since(start))
	return err
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync synchronizes with storage, loading new packages and unloading
// packages that are gone.
func (r *PackageRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing packages from storage")

	objects, err := r.storage.List(ctx)
	r.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return SyncStats{}, err
	}

	remotePackages := make(map[string]string) // packageID -> objectKey
	for _, obj := range objects {
		remotePackages[derivePackageID(obj.Key)] = obj.Key
	}

	stats := SyncStats{}

	for packageID, objectKey := range remotePackages {
		if r.IsLoaded(packageID) {
			r.logger.Debug("package already loaded, skipping", "id", packageID)
			continue
		}

		localPath := filepath.Join(r.localPath, objectKey)
		if err := r.download(ctx, objectKey, localPath); err != nil {
			r.logger.Error("failed to download package", "key", objectKey, "error", err)
			continue
		}
		if err := r.LoadPackage(ctx, localPath); err != nil {
			r.logger.Error("failed to load package", "path", localPath, "error", err)
			continue
		}

		stats.Added++
		r.logger.Info("new package synced", "id", packageID)
	}

	for _, packageID := range r.findPackagesToRemove(remotePackages) {
		r.logger.Info("removing package not in storage", "id", packageID)

		localPath := r.getPackagePath(packageID)
		if err := r.UnloadPackage(ctx, packageID); err != nil {
			r.logger.Error("failed to unload removed package", "id", packageID, "error", err)
			continue
		}

		// only downloaded copies are deleted, never files of a local source
		if localPath != "" && r.localPath != "" && filepath.Dir(localPath) == filepath.Clean(r.localPath) {
			if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
				r.logger.Warn("failed to delete local cache file", "path", localPath, "error", err)
			}
		}

		stats.Removed++
	}

	r.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", r.PackageCount())
	return stats, nil
}

func (r *PackageRegistry) findPackagesToRemove(remotePackages map[string]string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for packageID := range r.packages {
		if _, exists := remotePackages[packageID]; !exists {
			toRemove = append(toRemove, packageID)
		}
	}
	return toRemove
}

func (r *PackageRegistry) getPackagePath(packageID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pkg, ok := r.packages[packageID]; ok {
		return pkg.Path
	}
	return ""
}

// derivePackageID extracts a package ID from a file path or object key.
func derivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
