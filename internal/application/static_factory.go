package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// StaticVectorCubeFactory builds fully materialized vector cubes, used as
// results of processes that derive new data from an existing cube. The
// factory is the data source of the cubes it creates and never calls a
// remote store.
type StaticVectorCubeFactory struct {
	id            domain.CollectionID
	srid          int
	bbox          domain.BBox
	geometryTypes []string
	timeDimName   string
	hasTimeDim    bool
	vectorDim     []*geojson.Geometry
	verticalDim   []any
	timeDim       []time.Time
	metadata      map[bool]*domain.CollectionMetadata
	features      []*domain.Feature
	opts          CubeOptions
}

// CopyFrom snapshots base. The new id is base id plus suffix, or plus an
// underscore and a random uuid when suffix is empty. With withFeatures
// set, all features of base are deep copied into the snapshot.
func CopyFrom(ctx context.Context, base *VectorCube, withFeatures bool, suffix string, opts CubeOptions) (*StaticVectorCubeFactory, error) {
	if suffix == "" {
		suffix = "_" + uuid.NewString()
	}
	id := base.CollectionID()
	id.Name += suffix

	f := &StaticVectorCubeFactory{
		id:       id,
		metadata: make(map[bool]*domain.CollectionMetadata, 2),
		opts:     opts,
	}

	var err error
	if f.srid, err = base.SRID(ctx); err != nil {
		return nil, err
	}
	if f.bbox, err = base.BBox(ctx); err != nil {
		return nil, err
	}
	types, err := base.GeometryTypes(ctx)
	if err != nil {
		return nil, err
	}
	f.geometryTypes = append([]string(nil), types...)
	if f.timeDimName, f.hasTimeDim, err = base.TimeDimName(ctx); err != nil {
		return nil, err
	}

	vectorDim, err := base.VectorDim(ctx, nil)
	if err != nil {
		return nil, err
	}
	f.vectorDim = append([]*geojson.Geometry(nil), vectorDim...)
	verticalDim, err := base.VerticalDim(ctx, nil)
	if err != nil {
		return nil, err
	}
	f.verticalDim = append([]any(nil), verticalDim...)
	timeDim, err := base.TimeDim(ctx, nil)
	if err != nil {
		return nil, err
	}
	f.timeDim = append([]time.Time(nil), timeDim...)

	for _, full := range []bool{false, true} {
		m, err := base.Metadata(ctx, full)
		if err != nil {
			return nil, err
		}
		f.metadata[full] = m.Clone()
	}

	if withFeatures {
		features, err := base.AllFeatures(ctx)
		if err != nil {
			return nil, err
		}
		f.features = make([]*domain.Feature, 0, len(features))
		for _, feat := range features {
			f.features = append(f.features, feat.Clone())
		}
	}
	return f, nil
}

// ID returns the id the created cube will have.
func (f *StaticVectorCubeFactory) ID() domain.CollectionID {
	return f.id
}

// Features returns the current feature list.
func (f *StaticVectorCubeFactory) Features() []*domain.Feature {
	return f.features
}

// AddFeature appends a feature to the snapshot.
func (f *StaticVectorCubeFactory) AddFeature(feature *domain.Feature) {
	f.features = append(f.features, feature)
}

// AddFeatures appends features to the snapshot.
func (f *StaticVectorCubeFactory) AddFeatures(features []*domain.Feature) {
	f.features = append(f.features, features...)
}

// Create returns a vector cube backed by the snapshot.
func (f *StaticVectorCubeFactory) Create() *VectorCube {
	return NewVectorCube(f.id, f, f.opts)
}

// VectorDim implements output.DataSource.
func (f *StaticVectorCubeFactory) VectorDim(_ context.Context, bbox *domain.BBox) ([]*geojson.Geometry, error) {
	if bbox == nil {
		return f.vectorDim, nil
	}
	bound := bbox.Bound()
	var out []*geojson.Geometry
	for _, g := range f.vectorDim {
		if g != nil && bound.Intersects(g.Geometry().Bound()) {
			out = append(out, g)
		}
	}
	return out, nil
}

// SRID implements output.DataSource.
func (f *StaticVectorCubeFactory) SRID(_ context.Context) (int, error) {
	return f.srid, nil
}

// FeatureCount implements output.DataSource.
func (f *StaticVectorCubeFactory) FeatureCount(_ context.Context) (int, error) {
	return len(f.features), nil
}

// TimeDim implements output.DataSource.
func (f *StaticVectorCubeFactory) TimeDim(_ context.Context, _ *domain.BBox) ([]time.Time, error) {
	return f.timeDim, nil
}

// TimeDimName implements output.DataSource.
func (f *StaticVectorCubeFactory) TimeDimName(_ context.Context) (string, bool, error) {
	return f.timeDimName, f.hasTimeDim, nil
}

// VerticalDim implements output.DataSource.
func (f *StaticVectorCubeFactory) VerticalDim(_ context.Context, _ *domain.BBox) ([]any, error) {
	return f.verticalDim, nil
}

// LoadFeatures implements output.DataSource.
func (f *StaticVectorCubeFactory) LoadFeatures(_ context.Context, q output.FeatureQuery) ([]*domain.Feature, error) {
	if q.FeatureID != "" {
		for _, feat := range f.features {
			if feat.ID == q.FeatureID {
				return []*domain.Feature{feat}, nil
			}
		}
		return []*domain.Feature{}, nil
	}
	if q.Offset >= len(f.features) || q.Offset < 0 {
		return []*domain.Feature{}, nil
	}
	end := len(f.features)
	if q.Limit >= 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return f.features[q.Offset:end], nil
}

// VectorCubeBBox implements output.DataSource.
func (f *StaticVectorCubeFactory) VectorCubeBBox(_ context.Context) (domain.BBox, error) {
	return f.bbox, nil
}

// GeometryTypes implements output.DataSource.
func (f *StaticVectorCubeFactory) GeometryTypes(_ context.Context) ([]string, error) {
	return f.geometryTypes, nil
}

// Metadata implements output.DataSource.
func (f *StaticVectorCubeFactory) Metadata(_ context.Context, full bool) (*domain.CollectionMetadata, error) {
	if m, ok := f.metadata[full]; ok {
		return m, nil
	}
	return f.metadata[!full], nil
}
