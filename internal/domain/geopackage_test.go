package domain

import (
	"testing"
)

func TestGeoPackageGetLayer(t *testing.T) {
	gpkg := &GeoPackage{
		ID: "cities",
		Layers: []Layer{
			{Name: "layer1"},
			{Name: "layer2"},
		},
	}

	if gpkg.LayerCount() != 2 {
		t.Errorf("LayerCount() = %d, want 2", gpkg.LayerCount())
	}

	tests := []struct {
		name      string
		layerName string
		wantFound bool
	}{
		{"existing layer", "layer1", true},
		{"second layer", "layer2", true},
		{"missing layer", "layer3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer, found := gpkg.GetLayer(tt.layerName)
			if found != tt.wantFound {
				t.Errorf("GetLayer(%q) found = %v, want %v", tt.layerName, found, tt.wantFound)
			}
			if found && layer.Name != tt.layerName {
				t.Errorf("GetLayer(%q) name = %q", tt.layerName, layer.Name)
			}
		})
	}
}

func TestGeoPackageCollectionIDs(t *testing.T) {
	gpkg := &GeoPackage{
		ID:     "cities",
		Layers: []Layer{{Name: "places"}, {Name: "roads"}},
	}

	ids := gpkg.CollectionIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0].String() != "cities~places" || ids[1].String() != "cities~roads" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestLayerDimensionColumns(t *testing.T) {
	tests := []struct {
		name         string
		columns      []string
		wantTime     string
		wantVertical string
	}{
		{"none", []string{"name", "population"}, "", ""},
		{"date column", []string{"name", "date"}, "date", ""},
		{"first time-like wins", []string{"timestamp", "datetime"}, "timestamp", ""},
		{"vertical", []string{"z", "time"}, "time", "z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Layer{Columns: tt.columns}
			gotTime, _ := l.TimeColumn()
			gotVertical, _ := l.VerticalColumn()
			if gotTime != tt.wantTime {
				t.Errorf("TimeColumn() = %q, want %q", gotTime, tt.wantTime)
			}
			if gotVertical != tt.wantVertical {
				t.Errorf("VerticalColumn() = %q, want %q", gotVertical, tt.wantVertical)
			}
		})
	}
}
