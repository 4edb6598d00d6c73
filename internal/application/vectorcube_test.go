package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

func newTestCube(source *mockDataSource) *VectorCube {
	return NewVectorCube(domain.NewCollectionID("db", "cities"), source, CubeOptions{})
}

func TestVectorCubeMemoizesScalars(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	vc := newTestCube(source)

	for i := 0; i < 3; i++ {
		if srid, err := vc.SRID(ctx); err != nil || srid != 3246 {
			t.Fatalf("SRID() = %d, %v", srid, err)
		}
		if n, err := vc.FeatureCount(ctx); err != nil || n != 2 {
			t.Fatalf("FeatureCount() = %d, %v", n, err)
		}
		if _, err := vc.BBox(ctx); err != nil {
			t.Fatalf("BBox() failed: %v", err)
		}
		if _, err := vc.GeometryTypes(ctx); err != nil {
			t.Fatalf("GeometryTypes() failed: %v", err)
		}
		if name, ok, err := vc.TimeDimName(ctx); err != nil || !ok || name != "time" {
			t.Fatalf("TimeDimName() = %q, %v, %v", name, ok, err)
		}
		if _, err := vc.Metadata(ctx, false); err != nil {
			t.Fatalf("Metadata() failed: %v", err)
		}
	}

	for _, method := range []string{"SRID", "FeatureCount", "VectorCubeBBox", "GeometryTypes", "TimeDimName", "Metadata"} {
		if got := source.callCount(method); got != 1 {
			t.Errorf("%s called %d times, want 1", method, got)
		}
	}

	if _, err := vc.Metadata(ctx, true); err != nil {
		t.Fatalf("Metadata(full) failed: %v", err)
	}
	if got := source.callCount("Metadata"); got != 2 {
		t.Errorf("Metadata called %d times after full request, want 2", got)
	}
}

func TestVectorCubeDimensionsPerBBox(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	vc := newTestCube(source)
	bbox := domain.NewBBox(9, 52, 11, 54)

	calls := []*domain.BBox{nil, nil, &bbox, &bbox, nil}
	for _, b := range calls {
		if _, err := vc.VectorDim(ctx, b); err != nil {
			t.Fatalf("VectorDim failed: %v", err)
		}
		if _, err := vc.TimeDim(ctx, b); err != nil {
			t.Fatalf("TimeDim failed: %v", err)
		}
		if _, err := vc.VerticalDim(ctx, b); err != nil {
			t.Fatalf("VerticalDim failed: %v", err)
		}
	}

	for _, method := range []string{"VectorDim", "TimeDim", "VerticalDim"} {
		if got := source.callCount(method); got != 2 {
			t.Errorf("%s called %d times, want 2", method, got)
		}
	}
}

func TestVectorCubeLoadFeaturesCachesPages(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	vc := newTestCube(source)

	first, err := vc.LoadFeatures(ctx, 10, 0, true)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	second, err := vc.LoadFeatures(ctx, 10, 0, true)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("len = %d/%d, want 2", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Error("second call should return the cached page")
	}
	if got := source.callCount("LoadFeatures"); got != 1 {
		t.Errorf("LoadFeatures called %d times, want 1", got)
	}

	page, err := vc.LoadFeatures(ctx, 1, 1, true)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "1" {
		t.Errorf("page = %+v, want paderborn", page)
	}
	if vc.CachedPages() != 2 {
		t.Errorf("CachedPages() = %d, want 2", vc.CachedPages())
	}
}

func TestVectorCubePageKeyIncludesSTACFlag(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	vc := newTestCube(source)

	plain, err := vc.LoadFeatures(ctx, 10, 0, false)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	stac, err := vc.LoadFeatures(ctx, 10, 0, true)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}

	if plain[0].StacVersion != "" {
		t.Errorf("plain feature has stac_version %q", plain[0].StacVersion)
	}
	if stac[0].StacVersion != domain.STACVersion {
		t.Errorf("STAC feature has stac_version %q", stac[0].StacVersion)
	}
	if got := source.callCount("LoadFeatures"); got != 2 {
		t.Errorf("LoadFeatures called %d times, want 2", got)
	}
}

func TestVectorCubeFeature(t *testing.T) {
	ctx := context.Background()

	t.Run("from cached page", func(t *testing.T) {
		source := newMockDataSource(nil)
		vc := newTestCube(source)
		page, err := vc.LoadFeatures(ctx, 10, 0, true)
		if err != nil {
			t.Fatalf("LoadFeatures failed: %v", err)
		}

		f, err := vc.Feature(ctx, "1")
		if err != nil {
			t.Fatalf("Feature failed: %v", err)
		}
		if f != page[1] {
			t.Error("feature should be the instance of the cached page")
		}
		if got := source.callCount("LoadFeatures"); got != 1 {
			t.Errorf("LoadFeatures called %d times, want 1", got)
		}
	})

	t.Run("from source once", func(t *testing.T) {
		source := newMockDataSource(nil)
		vc := newTestCube(source)

		first, err := vc.Feature(ctx, "0")
		if err != nil {
			t.Fatalf("Feature failed: %v", err)
		}
		second, err := vc.Feature(ctx, "0")
		if err != nil {
			t.Fatalf("Feature failed: %v", err)
		}
		if first != second {
			t.Error("repeated lookups should return the same instance")
		}
		if first.StacVersion != domain.STACVersion {
			t.Error("single features are loaded with STAC info")
		}
		if got := source.callCount("LoadFeatures"); got != 1 {
			t.Errorf("LoadFeatures called %d times, want 1", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		vc := newTestCube(newMockDataSource(nil))
		_, err := vc.Feature(ctx, "42")
		if !errors.Is(err, domain.ErrFeatureNotFound) {
			t.Errorf("err = %v, want ErrFeatureNotFound", err)
		}
	})
}

func TestVectorCubeFeatureCacheBound(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	vc := NewVectorCube(domain.NewCollectionID("db", "cities"), source, CubeOptions{FeatureCacheSize: 1})

	for _, id := range []string{"0", "1", "0"} {
		if _, err := vc.Feature(ctx, id); err != nil {
			t.Fatalf("Feature(%q) failed: %v", id, err)
		}
	}
	if got := source.callCount("LoadFeatures"); got != 3 {
		t.Errorf("LoadFeatures called %d times, want 3 with a single cache slot", got)
	}
}

func TestVectorCubeErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	source.loadErr = domain.ErrRemoteUnavailable
	vc := newTestCube(source)

	if _, err := vc.LoadFeatures(ctx, 10, 0, false); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	source.mu.Lock()
	source.loadErr = nil
	source.mu.Unlock()

	features, err := vc.LoadFeatures(ctx, 10, 0, false)
	if err != nil {
		t.Fatalf("LoadFeatures failed after recovery: %v", err)
	}
	if len(features) != 2 {
		t.Errorf("len(features) = %d, want 2", len(features))
	}
}

func TestVectorCubeFeaturesByGeometry(t *testing.T) {
	ctx := context.Background()
	source := newMockDataSource(nil)
	source.features = append(source.features, domain.NewFeature("2", mustWKT(hamburgWKT), map[string]any{"population": float64(1100)}, false))
	vc := newTestCube(source)

	groups, err := vc.FeaturesByGeometry(ctx)
	if err != nil {
		t.Fatalf("FeaturesByGeometry failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].ID != "0" || groups[0][1].ID != "2" {
		t.Errorf("first group = %v", groups[0])
	}
	if len(groups[1]) != 1 || groups[1][0].ID != "1" {
		t.Errorf("second group = %v", groups[1])
	}
}

func TestVectorCubeConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	vc := newTestCube(newMockDataSource(nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := vc.LoadFeatures(ctx, 10, i%3, i%2 == 0); err != nil {
				t.Errorf("LoadFeatures failed: %v", err)
			}
			if _, err := vc.SRID(ctx); err != nil {
				t.Errorf("SRID failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
