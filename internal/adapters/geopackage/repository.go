// Package geopackage serves GeoPackage feature layers as collections.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// SpatiaLiteDriver is the database/sql driver with SpatiaLite loaded.
const SpatiaLiteDriver = "sqlite3_spatialite"

var registerOnce sync.Once

// RegisterSpatiaLite registers SpatiaLiteDriver. An empty library path
// falls back to SPATIALITE_LIBRARY_PATH and the usual install locations.
// Only the first call has an effect.
func RegisterSpatiaLite(library string) {
	registerOnce.Do(func() {
		sql.Register(SpatiaLiteDriver, &sqlite3.SQLiteDriver{
			Extensions: []string{spatiaLiteLibrary(library)},
		})
	})
}

func spatiaLiteLibrary(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("SPATIALITE_LIBRARY_PATH"); env != "" {
		return env
	}
	for _, path := range spatiaLiteLibraryPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "mod_spatialite"
}

var spatiaLiteLibraryPaths = []string{
	// Alpine
	"/usr/lib/mod_spatialite.so",
	"/usr/lib/mod_spatialite.so.8",
	// Debian/Ubuntu
	"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
	"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",
	"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
	"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",
	// Homebrew
	"/usr/local/lib/mod_spatialite.dylib",
	"/opt/homebrew/lib/mod_spatialite.dylib",
}

// Repository implements output.GeoPackageRepository. Packages are opened
// read-only with the plain sqlite3 driver, one connection pool per
// package; geometries are decoded in Go.
type Repository struct {
	mu          sync.RWMutex
	connections map[string]*sql.DB
	packages    map[string]*domain.GeoPackage

	transformer output.BBoxTransformer
	logger      *slog.Logger
}

// NewRepository creates a new GeoPackage repository. The transformer
// reprojects layer extents to EPSG:4326 and may be nil.
func NewRepository(transformer output.BBoxTransformer, logger *slog.Logger) *Repository {
	return &Repository{
		connections: make(map[string]*sql.DB),
		packages:    make(map[string]*domain.GeoPackage),
		transformer: transformer,
		logger:      logger,
	}
}

// Open implements output.GeoPackageRepository.
func (r *Repository) Open(ctx context.Context, path string) (*domain.GeoPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packageID := DerivePackageID(path)
	if pkg, ok := r.packages[packageID]; ok {
		return pkg, nil
	}

	db, err := r.openDB(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	layers, err := readLayers(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "read layers", Key: path, Err: err}
	}

	pkg := &domain.GeoPackage{
		ID:     packageID,
		Name:   packageID,
		Path:   path,
		Layers: layers,
	}
	r.connections[packageID] = db
	r.packages[packageID] = pkg

	r.logger.Debug("opened geopackage", "package", packageID, "layers", len(layers))
	return pkg, nil
}

// Close implements output.GeoPackageRepository.
func (r *Repository) Close(_ context.Context, packageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.connections[packageID]
	if !ok {
		return nil
	}
	delete(r.connections, packageID)
	delete(r.packages, packageID)
	return db.Close()
}

// CloseAll closes every open package.
func (r *Repository) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, db := range r.connections {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.connections, id)
		delete(r.packages, id)
	}
	return firstErr
}

// GetLayers implements output.GeoPackageRepository.
func (r *Repository) GetLayers(_ context.Context, packageID string) ([]domain.Layer, error) {
	r.mu.RLock()
	pkg, ok := r.packages[packageID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return pkg.Layers, nil
}

// DataSource implements output.GeoPackageRepository.
func (r *Repository) DataSource(ctx context.Context, packageID, layerName string, bbox *domain.BBox) (output.DataSource, error) {
	r.mu.RLock()
	db, ok := r.connections[packageID]
	pkg := r.packages[packageID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	layer, found := pkg.GetLayer(layerName)
	if !found {
		return nil, domain.ErrLayerNotFound
	}

	index := rtreeTable(layer)
	hasIndex, err := hasTable(ctx, db, index)
	if err != nil {
		return nil, &domain.StorageError{Operation: "inspect", Key: pkg.Path, Err: err}
	}
	if !hasIndex {
		index = ""
	}

	return &DataSource{
		db:          db,
		layer:       *layer,
		bbox:        bbox,
		index:       index,
		transformer: r.transformer,
	}, nil
}

func (r *Repository) openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// readLayers reads the feature layers from gpkg_contents.
func readLayers(ctx context.Context, db *sql.DB) ([]domain.Layer, error) {
	query := `
		SELECT
			c.table_name,
			COALESCE(c.description, ''),
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []domain.Layer
	for rows.Next() {
		var l domain.Layer
		var minX, minY, maxX, maxY sql.NullFloat64

		err := rows.Scan(
			&l.Name, &l.Description, &l.GeometryColumn,
			&l.GeometryType, &l.SRID,
			&minX, &minY, &maxX, &maxY,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			extent := domain.NewBBox(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64)
			l.Extent = &extent
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for i := range layers {
		if err := readColumns(ctx, db, &layers[i]); err != nil {
			return nil, err
		}
	}
	return layers, nil
}

// readColumns fills the id and attribute columns of a layer.
func readColumns(ctx context.Context, db *sql.DB, layer *domain.Layer) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(layer.Name)+")")
	if err != nil {
		return fmt.Errorf("reading columns of %s: %w", layer.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scanning column: %w", err)
		}
		switch {
		case pk > 0 && layer.IDColumn == "":
			layer.IDColumn = name
		case strings.EqualFold(name, layer.GeometryColumn):
		default:
			layer.Columns = append(layer.Columns, name)
		}
	}
	if layer.IDColumn == "" {
		layer.IDColumn = "rowid"
	}
	return rows.Err()
}

func hasTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// rtreeTable names the spatial index table of the GeoPackage RTree
// extension.
func rtreeTable(layer *domain.Layer) string {
	return fmt.Sprintf("rtree_%s_%s", layer.Name, layer.GeometryColumn)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DerivePackageID derives a package ID from the file path.
// It extracts the filename without extension as the package identifier.
func DerivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
