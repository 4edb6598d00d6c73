package geopackage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

var (
	hamburg = orb.Polygon{{{9, 52}, {11, 52}, {11, 54}, {9, 54}, {9, 52}}}
	padborn = orb.Polygon{{{8.7, 51.3}, {8.8, 51.3}, {8.8, 51.8}, {8.7, 51.8}, {8.7, 51.3}}}
	berlin  = orb.Point{13.4, 52.5}
	elbe    = orb.LineString{{1000000, 7000000}, {1100000, 7100000}}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeGeometry builds a GeoPackage binary geometry. A non-zero
// envelope indicator writes a zeroed envelope of matching size.
func encodeGeometry(t *testing.T, geom orb.Geometry, srid int, envelope byte) []byte {
	t.Helper()
	body, err := wkb.Marshal(geom, binary.LittleEndian)
	if err != nil {
		t.Fatalf("wkb.Marshal() error = %v", err)
	}
	out := make([]byte, headerSize+envelopeSizes[envelope])
	out[0], out[1] = 'G', 'P'
	out[3] = 0x01 | envelope<<1
	binary.LittleEndian.PutUint32(out[4:8], uint32(int32(srid)))
	return append(out, body...)
}

type fixtureRow struct {
	geom       orb.Geometry
	name       string
	population float64
	datetime   any
}

// createTestPackage writes a GeoPackage with a "cities" layer in
// EPSG:4326 and a "rivers" layer in EPSG:3857 without stored extent.
func createTestPackage(t *testing.T, withIndex bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "germany.gpkg")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	exec(`CREATE TABLE gpkg_contents (
		table_name TEXT PRIMARY KEY, data_type TEXT, identifier TEXT, description TEXT,
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`)
	exec(`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT, column_name TEXT, geometry_type_name TEXT,
		srs_id INTEGER, z TINYINT, m TINYINT)`)

	exec(`INSERT INTO gpkg_contents VALUES ('cities', 'features', 'cities', 'German cities', 8.7, 51.3, 13.4, 54, 4326)`)
	exec(`INSERT INTO gpkg_contents VALUES ('rivers', 'features', 'rivers', NULL, NULL, NULL, NULL, NULL, 3857)`)
	exec(`INSERT INTO gpkg_contents VALUES ('tiles', 'tiles', 'tiles', NULL, NULL, NULL, NULL, NULL, 3857)`)
	exec(`INSERT INTO gpkg_geometry_columns VALUES ('cities', 'geom', 'GEOMETRY', 4326, 0, 0)`)
	exec(`INSERT INTO gpkg_geometry_columns VALUES ('rivers', 'shape', 'LINESTRING', 3857, 0, 0)`)

	exec(`CREATE TABLE cities (
		fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB,
		name TEXT, population DOUBLE, datetime TEXT)`)
	exec(`CREATE TABLE rivers (shape BLOB, name TEXT)`)

	cities := []fixtureRow{
		{geom: hamburg, name: "hamburg", population: 1000, datetime: "2000-01-01T00:00:00Z"},
		{geom: padborn, name: "paderborn", population: 100, datetime: "2000-01-20T00:00:00Z"},
		{geom: berlin, name: "berlin", population: 3000, datetime: nil},
	}
	for _, c := range cities {
		exec(`INSERT INTO cities (geom, name, population, datetime) VALUES (?, ?, ?, ?)`,
			encodeGeometry(t, c.geom, 4326, 1), c.name, c.population, c.datetime)
	}
	exec(`INSERT INTO rivers (shape, name) VALUES (?, 'elbe')`, encodeGeometry(t, elbe, 3857, 0))

	if withIndex {
		exec(`CREATE VIRTUAL TABLE rtree_cities_geom USING rtree(id, minx, maxx, miny, maxy)`)
		for i, c := range cities {
			b := c.geom.Bound()
			exec(`INSERT INTO rtree_cities_geom VALUES (?, ?, ?, ?, ?)`,
				i+1, b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y())
		}
	}
	return path
}

func openTestRepository(t *testing.T, withIndex bool, transformer *fakeTransformer) (*Repository, *domain.GeoPackage) {
	t.Helper()
	var repo *Repository
	if transformer != nil {
		repo = NewRepository(transformer, discardLogger())
	} else {
		repo = NewRepository(nil, discardLogger())
	}
	pkg, err := repo.Open(context.Background(), createTestPackage(t, withIndex))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.CloseAll() })
	return repo, pkg
}

// fakeTransformer answers every transformation with a fixed box.
type fakeTransformer struct {
	calls [][2]int
}

func (f *fakeTransformer) TransformBBox(_ context.Context, _ domain.BBox, sourceSRID, targetSRID int) (domain.BBox, error) {
	f.calls = append(f.calls, [2]int{sourceSRID, targetSRID})
	return domain.NewBBox(8.98, 53.1, 9.88, 53.7), nil
}
