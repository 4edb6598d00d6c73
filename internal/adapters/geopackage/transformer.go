package geopackage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// Transformer implements output.BBoxTransformer with SpatiaLite. It runs
// on a private in-memory database because GeoPackages lack the
// spatial_ref_sys table that ST_Transform needs.
type Transformer struct {
	db *sql.DB
}

// NewTransformer opens the in-memory SpatiaLite database. RegisterSpatiaLite
// must have been called before.
func NewTransformer(ctx context.Context) (*Transformer, error) {
	db, err := sql.Open(SpatiaLiteDriver, ":memory:")
	if err != nil {
		return nil, err
	}
	// Every pooled connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising spatial metadata: %w", err)
	}
	return &Transformer{db: db}, nil
}

// TransformBBox implements output.BBoxTransformer. The result is the
// envelope of the transformed box.
func (t *Transformer) TransformBBox(ctx context.Context, bbox domain.BBox, sourceSRID, targetSRID int) (domain.BBox, error) {
	if sourceSRID == targetSRID {
		return bbox, nil
	}

	query := `
		SELECT MbrMinX(g), MbrMinY(g), MbrMaxX(g), MbrMaxY(g)
		FROM (SELECT ST_Transform(BuildMbr(?, ?, ?, ?, ?), ?) AS g)
	`
	var minX, minY, maxX, maxY sql.NullFloat64
	err := t.db.QueryRowContext(ctx, query,
		bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY, sourceSRID, targetSRID,
	).Scan(&minX, &minY, &maxX, &maxY)
	if err != nil {
		return domain.BBox{}, fmt.Errorf("transforming bbox: %w", err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return domain.BBox{}, fmt.Errorf("transforming bbox from %d to %d: %w", sourceSRID, targetSRID, domain.ErrInvalidSRID)
	}
	return domain.NewBBox(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64), nil
}

// Close closes the transformer's database.
func (t *Transformer) Close() error {
	return t.db.Close()
}
