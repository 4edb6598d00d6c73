package domain

import (
	"encoding/json"
	"testing"
)

func TestNewCollectionMetadata(t *testing.T) {
	m := NewCollectionMetadata("cities", NewBBox(9, 52, 11, 54), []string{"name", "population"})

	if m.Title != "cities" {
		t.Errorf("Title = %q", m.Title)
	}
	if m.Extent.Spatial.CRS != CRS84 {
		t.Errorf("CRS = %q", m.Extent.Spatial.CRS)
	}
	if len(m.Extent.Spatial.BBox) != 1 || m.Extent.Spatial.BBox[0][2] != 11 {
		t.Errorf("unexpected spatial extent: %v", m.Extent.Spatial.BBox)
	}

	data, err := json.Marshal(m.Extent.Temporal)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"interval":[[null,null]]}` {
		t.Errorf("temporal extent = %s", data)
	}

	props := m.Summaries["properties"].([]map[string]any)
	if len(props) != 2 || props[1]["name"] != "population" {
		t.Errorf("unexpected summaries: %v", props)
	}
}

func TestCollectionMetadataClone(t *testing.T) {
	m := NewCollectionMetadata("cities", NewBBox(9, 52, 11, 54), nil)
	m.Keywords = []string{"a"}

	c := m.Clone()
	c.Extent.Spatial.BBox[0][0] = 0
	c.Keywords[0] = "b"
	c.Title = "other"

	if m.Extent.Spatial.BBox[0][0] != 9 {
		t.Error("Clone should copy the spatial extent")
	}
	if m.Keywords[0] != "a" {
		t.Error("Clone should copy keywords")
	}
	if m.Title != "cities" {
		t.Error("Clone should copy the title")
	}

	var nilMeta *CollectionMetadata
	if nilMeta.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestFindColumn(t *testing.T) {
	got, ok := FindColumn([]string{"id", "datetime", "date"}, TimeColumnNames)
	if !ok || got != "datetime" {
		t.Errorf("FindColumn() = %q, %v", got, ok)
	}
	if _, ok := FindColumn([]string{"id"}, VerticalColumnNames); ok {
		t.Error("expected no vertical column")
	}
}
