package geodb

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/relvacode/iso8601"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// DataSource reads one geoDB collection. Rows are restricted to bbox when
// one is set. SRID and column names are looked up once.
type DataSource struct {
	client *Client
	token  string
	id     domain.CollectionID
	bbox   *domain.BBox

	mu      sync.Mutex
	srid    int
	columns []string
}

// NewDataSource creates a data source for collection id.
func NewDataSource(client *Client, token string, id domain.CollectionID, bbox *domain.BBox) *DataSource {
	return &DataSource{client: client, token: token, id: id, bbox: bbox}
}

func (ds *DataSource) remoteError(op string, err error) error {
	return &domain.RemoteError{Operation: op, Collection: ds.id.String(), Err: err}
}

func (ds *DataSource) rpc(ctx context.Context, op string, payload map[string]any) ([]row, error) {
	body, err := ds.client.RPC(ctx, ds.token, op, payload)
	if err != nil {
		return nil, ds.remoteError(op, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, ds.remoteError(op, err)
	}
	return rows, nil
}

// SRID implements output.DataSource.
func (ds *DataSource) SRID(ctx context.Context) (int, error) {
	ds.mu.Lock()
	if ds.srid != 0 {
		srid := ds.srid
		ds.mu.Unlock()
		return srid, nil
	}
	ds.mu.Unlock()

	const op = "geodb_get_collection_srid"
	rows, err := ds.rpc(ctx, op, map[string]any{"collection": ds.id.TableName()})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ds.remoteError(op, domain.ErrCollectionNotFound)
	}
	srid, ok := intValue(rows[0]["srid"])
	if !ok {
		return 0, ds.remoteError(op, domain.ErrCollectionNotFound)
	}

	ds.mu.Lock()
	ds.srid = srid
	ds.mu.Unlock()
	return srid, nil
}

// Columns returns the property names of the collection.
func (ds *DataSource) Columns(ctx context.Context) ([]string, error) {
	ds.mu.Lock()
	if ds.columns != nil {
		columns := ds.columns
		ds.mu.Unlock()
		return columns, nil
	}
	ds.mu.Unlock()

	rows, err := ds.rpc(ctx, "geodb_get_properties", map[string]any{"collection": ds.id.TableName()})
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["column_name"].(string); ok {
			columns = append(columns, name)
		}
	}

	ds.mu.Lock()
	ds.columns = columns
	ds.mu.Unlock()
	return columns, nil
}

// FeatureCount implements output.DataSource.
func (ds *DataSource) FeatureCount(ctx context.Context) (int, error) {
	const op = "geodb_count_collection"
	rows, err := ds.rpc(ctx, op, map[string]any{"collection": ds.id.TableName()})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	count, ok := intValue(rows[0]["ct"])
	if !ok {
		return 0, ds.remoteError(op, domain.ErrInternal)
	}
	return count, nil
}

// TimeDimName implements output.DataSource.
func (ds *DataSource) TimeDimName(ctx context.Context) (string, bool, error) {
	columns, err := ds.Columns(ctx)
	if err != nil {
		return "", false, err
	}
	name, ok := domain.FindColumn(columns, domain.TimeColumnNames)
	return name, ok, nil
}

type rowQuery struct {
	bbox      *domain.BBox
	limit     int
	offset    int
	featureID string
	columns   []string
}

// rows loads table rows. A bbox switches to the geodb_get_by_bbox
// function, which returns whole rows.
func (ds *DataSource) rows(ctx context.Context, q rowQuery) ([]row, error) {
	if q.bbox == nil {
		q.bbox = ds.bbox
	}

	if q.featureID != "" || q.bbox == nil {
		query := url.Values{}
		query.Set("order", "id")
		if q.featureID != "" {
			query.Set("id", "eq."+q.featureID)
		}
		if q.limit > 0 {
			query.Set("limit", strconv.Itoa(q.limit))
		}
		if q.offset > 0 {
			query.Set("offset", strconv.Itoa(q.offset))
		}
		if len(q.columns) > 0 {
			query.Set("select", strings.Join(q.columns, ","))
		}

		body, err := ds.client.Table(ctx, ds.token, ds.id.TableName(), query)
		if err != nil {
			return nil, ds.remoteError("table", err)
		}
		rows, err := decodeRows(body)
		if err != nil {
			return nil, ds.remoteError("table", err)
		}
		return rows, nil
	}

	srid, err := ds.SRID(ctx)
	if err != nil {
		return nil, err
	}
	return ds.rpc(ctx, "geodb_get_by_bbox", map[string]any{
		"collection": ds.id.TableName(),
		"minx":       q.bbox.MinX,
		"miny":       q.bbox.MinY,
		"maxx":       q.bbox.MaxX,
		"maxy":       q.bbox.MaxY,
		"bbox_mode":  "intersects",
		"bbox_crs":   srid,
		"limit":      q.limit,
		"offset":     q.offset,
	})
}

// VectorDim implements output.DataSource.
func (ds *DataSource) VectorDim(ctx context.Context, bbox *domain.BBox) ([]*geojson.Geometry, error) {
	rows, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{"geometry"}})
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Geometry, 0, len(rows))
	for _, r := range rows {
		geom, err := decodeGeometry(r["geometry"])
		if err != nil {
			return nil, ds.remoteError("table", err)
		}
		if geom != nil {
			out = append(out, geojson.NewGeometry(geom))
		}
	}
	return out, nil
}

// TimeDim implements output.DataSource.
func (ds *DataSource) TimeDim(ctx context.Context, bbox *domain.BBox) ([]time.Time, error) {
	name, ok, err := ds.TimeDimName(ctx)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{name}})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		s, ok := r[name].(string)
		if !ok || s == "" {
			continue
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return nil, ds.remoteError("table", err)
		}
		out = append(out, t.UTC())
	}
	return out, nil
}

// VerticalDim implements output.DataSource.
func (ds *DataSource) VerticalDim(ctx context.Context, bbox *domain.BBox) ([]any, error) {
	columns, err := ds.Columns(ctx)
	if err != nil {
		return nil, err
	}
	name, ok := domain.FindColumn(columns, domain.VerticalColumnNames)
	if !ok {
		return nil, nil
	}
	rows, err := ds.rows(ctx, rowQuery{bbox: bbox, columns: []string{name}})
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[name])
	}
	return out, nil
}

// LoadFeatures implements output.DataSource.
func (ds *DataSource) LoadFeatures(ctx context.Context, q output.FeatureQuery) ([]*domain.Feature, error) {
	rows, err := ds.rows(ctx, rowQuery{limit: q.Limit, offset: q.Offset, featureID: q.FeatureID})
	if err != nil {
		return nil, err
	}

	features := make([]*domain.Feature, 0, len(rows))
	for _, r := range rows {
		geom, err := decodeGeometry(r["geometry"])
		if err != nil {
			return nil, ds.remoteError("table", err)
		}
		props := make(map[string]any, len(r))
		for k, v := range r {
			if k == "id" || k == "geometry" {
				continue
			}
			props[k] = domain.SanitizeValue(v)
		}
		features = append(features, domain.NewFeature(idString(r["id"]), geom, props, q.WithSTACInfo))
	}
	return features, nil
}

// collectionBBox returns the estimated or exact bbox in EPSG:4326.
func (ds *DataSource) collectionBBox(ctx context.Context, exact bool) (domain.BBox, bool, error) {
	op := "geodb_estimate_collection_bbox"
	if exact {
		op = "geodb_get_collection_bbox"
	}
	body, err := ds.client.RPC(ctx, ds.token, op, map[string]any{"collection": ds.id.TableName()})
	if err != nil {
		return domain.BBox{}, false, ds.remoteError(op, err)
	}
	bbox, ok, err := decodeBox(body, op)
	if err != nil {
		return domain.BBox{}, false, ds.remoteError(op, err)
	}
	if !ok {
		return domain.BBox{}, false, nil
	}

	srid, err := ds.SRID(ctx)
	if err != nil {
		return domain.BBox{}, false, err
	}
	if srid != domain.SRIDWGS84 {
		bbox, err = ds.client.TransformBBox(ctx, ds.token, bbox, srid, domain.SRIDWGS84)
		if err != nil {
			return domain.BBox{}, false, err
		}
	}
	return bbox, true, nil
}

// VectorCubeBBox implements output.DataSource. The estimate is preferred;
// the exact box is computed only when no estimate exists.
func (ds *DataSource) VectorCubeBBox(ctx context.Context) (domain.BBox, error) {
	for _, exact := range []bool{false, true} {
		bbox, ok, err := ds.collectionBBox(ctx, exact)
		if err != nil {
			return domain.BBox{}, err
		}
		if ok {
			return bbox, nil
		}
	}
	return domain.WorldBBox, nil
}

// GeometryTypes implements output.DataSource.
func (ds *DataSource) GeometryTypes(ctx context.Context) ([]string, error) {
	rows, err := ds.rpc(ctx, "geodb_get_geometry_types", map[string]any{
		"collection": ds.id.TableName(),
		"aggregate":  true,
	})
	if err != nil {
		return nil, err
	}

	var types []string
	add := func(v any) {
		if s, ok := v.(string); ok && s != "" && !slices.Contains(types, s) {
			types = append(types, s)
		}
	}
	for _, r := range rows {
		if list, ok := r["types"].([]any); ok {
			for _, t := range list {
				add(t)
			}
		}
		add(r["geometrytype"])
	}
	return types, nil
}

// Metadata implements output.DataSource.
func (ds *DataSource) Metadata(ctx context.Context, full bool) (*domain.CollectionMetadata, error) {
	columns, err := ds.Columns(ctx)
	if err != nil {
		return nil, err
	}

	bbox, ok, err := ds.collectionBBox(ctx, full)
	if err != nil {
		return nil, err
	}
	if !ok && full {
		bbox, ok, err = ds.collectionBBox(ctx, false)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		bbox = domain.WorldBBox
	}

	m := domain.NewCollectionMetadata(ds.id.Name, bbox, columns)
	if !full {
		return m, nil
	}

	name, ok, err := ds.TimeDimName(ctx)
	if err != nil || !ok {
		return m, err
	}
	lo, ok, err := ds.timeBound(ctx, name, "asc")
	if err != nil || !ok {
		return m, err
	}
	hi, _, err := ds.timeBound(ctx, name, "desc")
	if err != nil {
		return nil, err
	}
	start, end := lo.Format(time.RFC3339), hi.Format(time.RFC3339)
	m.Extent.Temporal = domain.TemporalExtent{Interval: [][]*string{{&start, &end}}}
	return m, nil
}

// timeBound reads the earliest ("asc") or latest ("desc") non-null value
// of the time column over the whole collection, ignoring the bbox of the
// data source.
func (ds *DataSource) timeBound(ctx context.Context, column, direction string) (time.Time, bool, error) {
	query := url.Values{}
	query.Set("select", column)
	query.Set(column, "not.is.null")
	query.Set("order", column+"."+direction)
	query.Set("limit", "1")

	body, err := ds.client.Table(ctx, ds.token, ds.id.TableName(), query)
	if err != nil {
		return time.Time{}, false, ds.remoteError("table", err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return time.Time{}, false, ds.remoteError("table", err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	s, ok := rows[0][column].(string)
	if !ok || s == "" {
		return time.Time{}, false, nil
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, false, ds.remoteError("table", err)
	}
	return t.UTC(), true, nil
}
