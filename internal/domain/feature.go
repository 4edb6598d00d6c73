package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// STAC constants shared by collection and item documents.
const (
	STACVersion          = "1.0.0"
	STACItemSchema       = "https://schemas.stacspec.org/v1.0.0/item-spec/json-schema/item.json"
	STACDatacubeSchema   = "https://stac-extensions.github.io/datacube/v2.2.0/schema.json"
	STACVersionExtSchema = "https://stac-extensions.github.io/version/v1.0.0/schema.json"
)

// STACExtensions lists the extensions every collection declares.
func STACExtensions() []string {
	return []string{STACDatacubeSchema, STACVersionExtSchema}
}

// Feature is a single row of a collection, shaped as a GeoJSON feature.
// STAC fields are only set when the feature was loaded with STAC info.
type Feature struct {
	StacVersion    string            `json:"stac_version,omitempty"`
	StacExtensions []string          `json:"stac_extensions,omitempty"`
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	BBox           []string          `json:"bbox,omitempty"`
	Geometry       *geojson.Geometry `json:"geometry"`
	Properties     map[string]any    `json:"properties"`
}

// NewFeature creates a feature for a geometry. The bbox is derived from
// the geometry bound.
func NewFeature(id string, geom orb.Geometry, properties map[string]any, withSTAC bool) *Feature {
	f := &Feature{
		Type:       "Feature",
		ID:         id,
		Properties: properties,
	}
	if f.Properties == nil {
		f.Properties = map[string]any{}
	}
	if geom != nil {
		f.Geometry = geojson.NewGeometry(geom)
		f.BBox = FormatBBox(geom.Bound())
	}
	if withSTAC {
		f.StacVersion = STACVersion
		f.StacExtensions = []string{STACItemSchema}
	}
	return f
}

// FormatBBox renders a bound as four strings with 4 decimal places.
func FormatBBox(b orb.Bound) []string {
	return []string{
		fmt.Sprintf("%.4f", b.Min.X()),
		fmt.Sprintf("%.4f", b.Min.Y()),
		fmt.Sprintf("%.4f", b.Max.X()),
		fmt.Sprintf("%.4f", b.Max.Y()),
	}
}

// SanitizeValue replaces NaN floats, which cannot be encoded as JSON.
func SanitizeValue(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) {
			return "NaN"
		}
	case float32:
		if math.IsNaN(float64(f)) {
			return "NaN"
		}
	}
	return v
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (any, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// GetFloatProperty returns a numeric property as float64.
func (f *Feature) GetFloatProperty(key string) (float64, bool) {
	v, ok := f.GetProperty(key)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// OrbGeometry returns the decoded geometry, or nil.
func (f *Feature) OrbGeometry() orb.Geometry {
	if f.Geometry == nil {
		return nil
	}
	return f.Geometry.Geometry()
}

// Clone returns a deep copy of the feature. The geometry is shared since
// it is never mutated.
func (f *Feature) Clone() *Feature {
	c := *f
	if f.StacExtensions != nil {
		c.StacExtensions = append([]string(nil), f.StacExtensions...)
	}
	if f.BBox != nil {
		c.BBox = append([]string(nil), f.BBox...)
	}
	c.Properties = cloneMap(f.Properties)
	return &c
}

// ToFloat converts numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection wraps features.
func NewFeatureCollection(features []*Feature) *FeatureCollection {
	if features == nil {
		features = []*Feature{}
	}
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}
