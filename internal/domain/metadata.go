package domain

// CollectionMetadata describes a collection for STAC documents.
type CollectionMetadata struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	License     string         `json:"license,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	Providers   []Provider     `json:"providers,omitempty"`
	Extent      Extent         `json:"extent"`
	Summaries   map[string]any `json:"summaries,omitempty"`
	Version     string         `json:"version,omitempty"`
}

// Provider names an organisation that hosts or processes a collection.
type Provider struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// Extent is the STAC collection extent.
type Extent struct {
	Spatial  SpatialExtent  `json:"spatial"`
	Temporal TemporalExtent `json:"temporal"`
}

// SpatialExtent holds one or more bounding boxes.
type SpatialExtent struct {
	BBox [][]float64 `json:"bbox"`
	CRS  string      `json:"crs,omitempty"`
}

// TemporalExtent holds intervals of RFC 3339 strings; nil means open.
type TemporalExtent struct {
	Interval [][]*string `json:"interval"`
}

// OpenInterval returns the unbounded temporal interval [[null, null]].
func OpenInterval() TemporalExtent {
	return TemporalExtent{Interval: [][]*string{{nil, nil}}}
}

// NewCollectionMetadata builds the default metadata of a collection: title
// is the collection name, the spatial extent is the given bbox in CRS84,
// the temporal extent is open and the summaries list the column names.
func NewCollectionMetadata(name string, bbox BBox, columns []string) *CollectionMetadata {
	props := make([]map[string]any, 0, len(columns))
	for _, c := range columns {
		props = append(props, map[string]any{"name": c})
	}
	return &CollectionMetadata{
		Title: name,
		Extent: Extent{
			Spatial:  SpatialExtent{BBox: [][]float64{bbox.Slice()}, CRS: CRS84},
			Temporal: OpenInterval(),
		},
		Summaries: map[string]any{"properties": props},
	}
}

// Clone returns a copy safe to modify.
func (m *CollectionMetadata) Clone() *CollectionMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Keywords = append([]string(nil), m.Keywords...)
	c.Providers = append([]Provider(nil), m.Providers...)
	c.Extent.Spatial.BBox = make([][]float64, len(m.Extent.Spatial.BBox))
	for i, b := range m.Extent.Spatial.BBox {
		c.Extent.Spatial.BBox[i] = append([]float64(nil), b...)
	}
	c.Extent.Temporal.Interval = make([][]*string, len(m.Extent.Temporal.Interval))
	for i, iv := range m.Extent.Temporal.Interval {
		c.Extent.Temporal.Interval[i] = append([]*string(nil), iv...)
	}
	c.Summaries = cloneMap(m.Summaries)
	return &c
}

// TimeColumnNames are the column names treated as the time dimension.
var TimeColumnNames = []string{"date", "time", "timestamp", "datetime"}

// VerticalColumnNames are the column names treated as the vertical dimension.
var VerticalColumnNames = []string{"z", "vertical"}

// FindColumn returns the first column matching one of the candidates.
func FindColumn(columns []string, candidates []string) (string, bool) {
	for _, c := range columns {
		for _, cand := range candidates {
			if c == cand {
				return c, true
			}
		}
	}
	return "", false
}
