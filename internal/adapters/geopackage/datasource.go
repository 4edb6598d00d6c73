package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/relvacode/iso8601"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// DataSource reads one GeoPackage feature layer. Rows are restricted to
// bbox when one is set; a row matches when its geometry envelope
// intersects the box.
type DataSource struct {
	db          *sql.DB
	layer       domain.Layer
	bbox        *domain.BBox
	index       string
	transformer output.BBoxTransformer
}

type record struct {
	id     string
	geom   orb.Geometry
	values map[string]any
}

type rowQuery struct {
	bbox      *domain.BBox
	limit     int
	offset    int
	featureID string
	columns   []string
}

func (ds *DataSource) queryError(err error) error {
	return &domain.StorageError{Operation: "query", Key: ds.layer.Name, Err: err}
}

// rows loads records ordered by id. With a spatial index the bbox and
// paging run in SQL, otherwise envelopes are tested after decoding.
func (ds *DataSource) rows(ctx context.Context, q rowQuery) ([]record, error) {
	if q.bbox == nil {
		q.bbox = ds.bbox
	}
	if q.featureID != "" {
		q.bbox = nil
	}
	columns := q.columns
	if columns == nil {
		columns = ds.layer.Columns
	}

	selected := []string{quoteIdent(ds.layer.IDColumn), quoteIdent(ds.layer.GeometryColumn)}
	for _, c := range columns {
		selected = append(selected, quoteIdent(c))
	}

	var (
		where []string
		args  []any
	)
	if q.featureID != "" {
		where = append(where, quoteIdent(ds.layer.IDColumn)+" = ?")
		args = append(args, q.featureID)
	}
	sqlPaging := q.bbox == nil || ds.index != ""
	if q.bbox != nil && ds.index != "" {
		where = append(where, fmt.Sprintf(
			"%s IN (SELECT id FROM %s WHERE minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?)",
			quoteIdent(ds.layer.IDColumn), quoteIdent(ds.index),
		))
		args = append(args, q.bbox.MaxX, q.bbox.MinX, q.bbox.MaxY, q.bbox.MinY)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selected, ", "), quoteIdent(ds.layer.Name)) //#nosec G201 -- identifiers from gpkg_contents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + quoteIdent(ds.layer.IDColumn)
	if sqlPaging && (q.limit > 0 || q.offset > 0) {
		limit := q.limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.offset)
	}

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ds.queryError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []record
	skipped := 0
	for rows.Next() {
		values := make([]any, len(selected))
		ptrs := make([]any, len(selected))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ds.queryError(err)
		}

		blob, _ := values[1].([]byte)
		geom, err := decodeGeometry(blob)
		if err != nil {
			return nil, ds.queryError(fmt.Errorf("feature %v: %w", values[0], err))
		}

		if !sqlPaging {
			if geom == nil || !geom.Bound().Intersects(q.bbox.Bound()) {
				continue
			}
			if skipped < q.offset {
				skipped++
				continue
			}
			if q.limit > 0 && len(out) >= q.limit {
				break
			}
		}

		rec := record{id: idString(values[0]), geom: geom, values: make(map[string]any, len(columns))}
		for i, c := range columns {
			rec.values[c] = normalizeValue(values[i+2])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ds.queryError(err)
	}
	return out, nil
}

// SRID implements output.DataSource.
func (ds *DataSource) SRID(_ context.Context) (int, error) {
	return ds.layer.SRID, nil
}

// FeatureCount implements output.DataSource.
func (ds *DataSource) FeatureCount(ctx context.Context) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM " + quoteIdent(ds.layer.Name) //#nosec G202 -- table name from gpkg_contents
	if err := ds.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, ds.queryError(err)
	}
	return count, nil
}

// TimeDimName implements output.DataSource.
func (ds *DataSource) TimeDimName(_ context.Context) (string, bool, error) {
	name, ok := ds.layer.TimeColumn()
	return name, ok, nil
}

// VectorDim implements output.DataSource.
func (ds *DataSource) VectorDim(ctx context.Context, bbox *domain.BBox) ([]*geojson.Geometry, error) {
	records, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{}})
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Geometry, 0, len(records))
	for _, r := range records {
		if r.geom != nil {
			out = append(out, geojson.NewGeometry(r.geom))
		}
	}
	return out, nil
}

// TimeDim implements output.DataSource.
func (ds *DataSource) TimeDim(ctx context.Context, bbox *domain.BBox) ([]time.Time, error) {
	name, ok := ds.layer.TimeColumn()
	if !ok {
		return nil, nil
	}
	records, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{name}})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(records))
	for _, r := range records {
		s, ok := r.values[name].(string)
		if !ok || s == "" {
			continue
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return nil, ds.queryError(err)
		}
		out = append(out, t.UTC())
	}
	return out, nil
}

// VerticalDim implements output.DataSource.
func (ds *DataSource) VerticalDim(ctx context.Context, bbox *domain.BBox) ([]any, error) {
	name, ok := ds.layer.VerticalColumn()
	if !ok {
		return nil, nil
	}
	records, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{name}})
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(records))
	for _, r := range records {
		out = append(out, r.values[name])
	}
	return out, nil
}

// LoadFeatures implements output.DataSource.
func (ds *DataSource) LoadFeatures(ctx context.Context, q output.FeatureQuery) ([]*domain.Feature, error) {
	records, err := ds.rows(ctx, rowQuery{limit: q.Limit, offset: q.Offset, featureID: q.FeatureID})
	if err != nil {
		return nil, err
	}
	features := make([]*domain.Feature, 0, len(records))
	for _, r := range records {
		features = append(features, domain.NewFeature(r.id, r.geom, r.values, q.WithSTACInfo))
	}
	return features, nil
}

// exactBounds unions the envelopes of all geometries, in the layer SRID.
func (ds *DataSource) exactBounds(ctx context.Context) (domain.BBox, bool, error) {
	records, err := ds.rows(ctx, rowQuery{columns: []string{}})
	if err != nil {
		return domain.BBox{}, false, err
	}
	var (
		bound orb.Bound
		found bool
	)
	for _, r := range records {
		if r.geom == nil {
			continue
		}
		if !found {
			bound, found = r.geom.Bound(), true
			continue
		}
		bound = bound.Union(r.geom.Bound())
	}
	return domain.BBoxFromBound(bound), found, nil
}

// toWGS84 reprojects a box in the layer SRID. Without a transformer
// only boxes already in EPSG:4326 are kept.
func (ds *DataSource) toWGS84(ctx context.Context, bbox domain.BBox) (domain.BBox, error) {
	if ds.layer.SRID == domain.SRIDWGS84 || ds.layer.SRID <= 0 {
		return bbox, nil
	}
	if ds.transformer == nil {
		return domain.WorldBBox, nil
	}
	return ds.transformer.TransformBBox(ctx, bbox, ds.layer.SRID, domain.SRIDWGS84)
}

// collectionBBox returns the stored extent, or the exact bounds when
// exact is set or no extent is stored.
func (ds *DataSource) collectionBBox(ctx context.Context, exact bool) (domain.BBox, error) {
	var (
		bbox domain.BBox
		ok   bool
	)
	if !exact && ds.layer.Extent != nil {
		bbox, ok = *ds.layer.Extent, true
	} else {
		var err error
		bbox, ok, err = ds.exactBounds(ctx)
		if err != nil {
			return domain.BBox{}, err
		}
		if !ok && ds.layer.Extent != nil {
			bbox, ok = *ds.layer.Extent, true
		}
	}
	if !ok {
		return domain.WorldBBox, nil
	}
	return ds.toWGS84(ctx, bbox)
}

// VectorCubeBBox implements output.DataSource.
func (ds *DataSource) VectorCubeBBox(ctx context.Context) (domain.BBox, error) {
	return ds.collectionBBox(ctx, false)
}

// GeometryTypes implements output.DataSource.
func (ds *DataSource) GeometryTypes(ctx context.Context) ([]string, error) {
	records, err := ds.rows(ctx, rowQuery{columns: []string{}})
	if err != nil {
		return nil, err
	}
	var types []string
	for _, r := range records {
		if r.geom == nil {
			continue
		}
		if t := r.geom.GeoJSONType(); !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	if len(types) == 0 && ds.layer.GeometryType != "" {
		types = append(types, ds.layer.GeometryType)
	}
	return types, nil
}

// Metadata implements output.DataSource.
func (ds *DataSource) Metadata(ctx context.Context, full bool) (*domain.CollectionMetadata, error) {
	bbox, err := ds.collectionBBox(ctx, full)
	if err != nil {
		return nil, err
	}

	m := domain.NewCollectionMetadata(ds.layer.Name, bbox, ds.layer.Columns)
	m.Description = ds.layer.Description
	if !full {
		return m, nil
	}

	times, err := ds.TimeDim(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(times) > 0 {
		lo, hi := slices.MinFunc(times, compareTime), slices.MaxFunc(times, compareTime)
		start, end := lo.Format(time.RFC3339), hi.Format(time.RFC3339)
		m.Extent.Temporal = domain.TemporalExtent{Interval: [][]*string{{&start, &end}}}
	}
	return m, nil
}

func compareTime(a, b time.Time) int {
	return a.Compare(b)
}

// normalizeValue converts driver values into JSON friendly ones.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return domain.SanitizeValue(v)
	}
}

func idString(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
