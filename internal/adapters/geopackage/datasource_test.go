package geopackage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

func citiesSource(t *testing.T, withIndex bool, bbox *domain.BBox) *DataSource {
	t.Helper()
	repo, _ := openTestRepository(t, withIndex, nil)
	source, err := repo.DataSource(context.Background(), "germany", "cities", bbox)
	if err != nil {
		t.Fatalf("DataSource() error = %v", err)
	}
	return source.(*DataSource)
}

func featureIDs(features []*domain.Feature) []string {
	ids := make([]string, 0, len(features))
	for _, f := range features {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestDataSourceLoadFeatures(t *testing.T) {
	westphalia := domain.NewBBox(8, 51, 8.9, 51.9)
	north := domain.NewBBox(8, 51, 12, 55)

	tests := []struct {
		name  string
		bbox  *domain.BBox
		query output.FeatureQuery
		want  []string
	}{
		{
			name: "all",
			want: []string{"1", "2", "3"},
		},
		{
			name:  "page",
			query: output.FeatureQuery{Limit: 1, Offset: 1},
			want:  []string{"2"},
		},
		{
			name:  "offset beyond end",
			query: output.FeatureQuery{Limit: 10, Offset: 5},
			want:  []string{},
		},
		{
			name: "bbox",
			bbox: &westphalia,
			want: []string{"2"},
		},
		{
			name:  "bbox page",
			bbox:  &north,
			query: output.FeatureQuery{Limit: 1, Offset: 1},
			want:  []string{"2"},
		},
		{
			name:  "by id ignores bbox",
			bbox:  &westphalia,
			query: output.FeatureQuery{FeatureID: "3"},
			want:  []string{"3"},
		},
		{
			name:  "unknown id",
			query: output.FeatureQuery{FeatureID: "42"},
			want:  []string{},
		},
	}

	for _, withIndex := range []bool{false, true} {
		for _, tt := range tests {
			name := tt.name
			if withIndex {
				name += " indexed"
			}
			t.Run(name, func(t *testing.T) {
				source := citiesSource(t, withIndex, tt.bbox)
				features, err := source.LoadFeatures(context.Background(), tt.query)
				if err != nil {
					t.Fatalf("LoadFeatures() error = %v", err)
				}
				if diff := cmp.Diff(tt.want, featureIDs(features)); diff != "" {
					t.Errorf("ids mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestDataSourceFeatureContent(t *testing.T) {
	source := citiesSource(t, false, nil)

	features, err := source.LoadFeatures(context.Background(), output.FeatureQuery{FeatureID: "1", WithSTACInfo: true})
	if err != nil {
		t.Fatalf("LoadFeatures() error = %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("got %d features, want 1", len(features))
	}
	f := features[0]

	wantProps := map[string]any{
		"name":       "hamburg",
		"population": float64(1000),
		"datetime":   "2000-01-01T00:00:00Z",
	}
	if diff := cmp.Diff(wantProps, f.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
	if f.StacVersion != domain.STACVersion {
		t.Errorf("StacVersion = %q, want %q", f.StacVersion, domain.STACVersion)
	}
	if diff := cmp.Diff([]string{"9.0000", "52.0000", "11.0000", "54.0000"}, f.BBox); diff != "" {
		t.Errorf("bbox mismatch (-want +got):\n%s", diff)
	}
	if _, ok := f.OrbGeometry().(orb.Polygon); !ok {
		t.Errorf("geometry = %T, want orb.Polygon", f.OrbGeometry())
	}
}

func TestDataSourceDimensions(t *testing.T) {
	westphalia := domain.NewBBox(8, 51, 8.9, 51.9)
	source := citiesSource(t, false, &westphalia)
	ctx := context.Background()

	count, err := source.FeatureCount(ctx)
	if err != nil || count != 3 {
		t.Errorf("FeatureCount() = %d, %v; want 3 ignoring the bbox", count, err)
	}

	srid, _ := source.SRID(ctx)
	if srid != 4326 {
		t.Errorf("SRID() = %d, want 4326", srid)
	}

	name, ok, _ := source.TimeDimName(ctx)
	if !ok || name != "datetime" {
		t.Errorf("TimeDimName() = %q, %v; want datetime", name, ok)
	}

	geoms, err := source.VectorDim(ctx, nil)
	if err != nil {
		t.Fatalf("VectorDim() error = %v", err)
	}
	if len(geoms) != 1 {
		t.Errorf("VectorDim() returned %d geometries, want 1", len(geoms))
	}

	all, err := source.VectorDim(ctx, &domain.WorldBBox)
	if err != nil || len(all) != 3 {
		t.Errorf("VectorDim(world) = %d, %v; want 3", len(all), err)
	}

	times, err := source.TimeDim(ctx, &domain.WorldBBox)
	if err != nil {
		t.Fatalf("TimeDim() error = %v", err)
	}
	want := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2000, 1, 20, 0, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}

	vertical, err := source.VerticalDim(ctx, nil)
	if err != nil || vertical != nil {
		t.Errorf("VerticalDim() = %v, %v; want nil", vertical, err)
	}
}

func TestDataSourceGeometryTypes(t *testing.T) {
	source := citiesSource(t, false, nil)
	types, err := source.GeometryTypes(context.Background())
	if err != nil {
		t.Fatalf("GeometryTypes() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Polygon", "Point"}, types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}

func TestDataSourceMetadata(t *testing.T) {
	source := citiesSource(t, false, nil)
	ctx := context.Background()

	short, err := source.Metadata(ctx, false)
	if err != nil {
		t.Fatalf("Metadata(short) error = %v", err)
	}
	if short.Title != "cities" || short.Description != "German cities" {
		t.Errorf("title/description = %q/%q", short.Title, short.Description)
	}
	if diff := cmp.Diff([][]float64{{8.7, 51.3, 13.4, 54}}, short.Extent.Spatial.BBox); diff != "" {
		t.Errorf("short bbox mismatch (-want +got):\n%s", diff)
	}
	if short.Extent.Temporal.Interval[0][0] != nil {
		t.Error("short metadata should have an open interval")
	}

	full, err := source.Metadata(ctx, true)
	if err != nil {
		t.Fatalf("Metadata(full) error = %v", err)
	}
	if diff := cmp.Diff([][]float64{{8.7, 51.3, 13.4, 54}}, full.Extent.Spatial.BBox); diff != "" {
		t.Errorf("full bbox mismatch (-want +got):\n%s", diff)
	}
	interval := full.Extent.Temporal.Interval[0]
	if *interval[0] != "2000-01-01T00:00:00Z" || *interval[1] != "2000-01-20T00:00:00Z" {
		t.Errorf("interval = %s..%s", *interval[0], *interval[1])
	}
}

func TestDataSourceReprojectsExtent(t *testing.T) {
	t.Run("with transformer", func(t *testing.T) {
		transformer := &fakeTransformer{}
		repo, _ := openTestRepository(t, false, transformer)
		source, err := repo.DataSource(context.Background(), "germany", "rivers", nil)
		if err != nil {
			t.Fatalf("DataSource() error = %v", err)
		}

		bbox, err := source.VectorCubeBBox(context.Background())
		if err != nil {
			t.Fatalf("VectorCubeBBox() error = %v", err)
		}
		if bbox != domain.NewBBox(8.98, 53.1, 9.88, 53.7) {
			t.Errorf("VectorCubeBBox() = %v", bbox)
		}
		if diff := cmp.Diff([][2]int{{3857, 4326}}, transformer.calls); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("without transformer", func(t *testing.T) {
		repo, _ := openTestRepository(t, false, nil)
		source, err := repo.DataSource(context.Background(), "germany", "rivers", nil)
		if err != nil {
			t.Fatalf("DataSource() error = %v", err)
		}
		bbox, err := source.VectorCubeBBox(context.Background())
		if err != nil {
			t.Fatalf("VectorCubeBBox() error = %v", err)
		}
		if bbox != domain.WorldBBox {
			t.Errorf("VectorCubeBBox() = %v, want world", bbox)
		}
	})
}

func TestDataSourceRowidLayer(t *testing.T) {
	repo, _ := openTestRepository(t, false, nil)
	source, err := repo.DataSource(context.Background(), "germany", "rivers", nil)
	if err != nil {
		t.Fatalf("DataSource() error = %v", err)
	}
	features, err := source.LoadFeatures(context.Background(), output.FeatureQuery{})
	if err != nil {
		t.Fatalf("LoadFeatures() error = %v", err)
	}
	if len(features) != 1 || features[0].ID != "1" || features[0].Properties["name"] != "elbe" {
		t.Errorf("features = %+v", features)
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "bytes", in: []byte("abc"), want: "abc"},
		{name: "time", in: time.Date(2000, 1, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600)), want: "2000-01-01T00:00:00Z"},
		{name: "nan", in: math.NaN(), want: "NaN"},
		{name: "int", in: int64(3), want: int64(3)},
		{name: "nil", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeValue(tt.in); got != tt.want {
				t.Errorf("normalizeValue(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeGeometry(t *testing.T) {
	point := orb.Point{13.4, 52.5}

	t.Run("envelopes", func(t *testing.T) {
		for _, envelope := range []byte{0, 1, 2, 4} {
			geom, err := decodeGeometry(encodeGeometry(t, point, 4326, envelope))
			if err != nil {
				t.Fatalf("envelope %d: error = %v", envelope, err)
			}
			if geom != point {
				t.Errorf("envelope %d: geometry = %v, want %v", envelope, geom, point)
			}
		}
	})

	t.Run("nil blob", func(t *testing.T) {
		geom, err := decodeGeometry(nil)
		if geom != nil || err != nil {
			t.Errorf("decodeGeometry(nil) = %v, %v", geom, err)
		}
	})

	t.Run("empty flag", func(t *testing.T) {
		blob := encodeGeometry(t, point, 4326, 0)
		blob[3] |= 0x10
		geom, err := decodeGeometry(blob)
		if geom != nil || err != nil {
			t.Errorf("decodeGeometry(empty) = %v, %v", geom, err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		extended := encodeGeometry(t, point, 4326, 0)
		extended[3] |= 0x20
		badEnvelope := encodeGeometry(t, point, 4326, 0)
		badEnvelope[3] |= 0x0e

		tests := []struct {
			name string
			blob []byte
			want error
		}{
			{name: "magic", blob: []byte("XX\x00\x01\x00\x00\x00\x00\x01"), want: errNotGeoPackageBinary},
			{name: "short", blob: []byte("GP"), want: errNotGeoPackageBinary},
			{name: "truncated", blob: encodeGeometry(t, point, 4326, 0)[:headerSize], want: errNotGeoPackageBinary},
			{name: "extended", blob: extended, want: errExtendedGeometry},
			{name: "envelope", blob: badEnvelope, want: errNotGeoPackageBinary},
		}
		for _, tt := range tests {
			if _, err := decodeGeometry(tt.blob); !errors.Is(err, tt.want) {
				t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
			}
		}
	})
}
