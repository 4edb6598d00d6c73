package domain

import "time"

// GeoPackage represents a registered GeoPackage file. Each feature layer
// is exposed as the collection "<package id>~<layer name>".
type GeoPackage struct {
	ID       string    // Unique identifier (derived from filename)
	Name     string    // Display name
	Path     string    // File path
	Size     int64     // File size in bytes
	Layers   []Layer   // Feature layers
	LoadedAt time.Time // Load timestamp
}

// LayerCount returns the number of feature layers.
func (g *GeoPackage) LayerCount() int {
	return len(g.Layers)
}

// GetLayer returns a layer by name.
func (g *GeoPackage) GetLayer(name string) (*Layer, bool) {
	for i := range g.Layers {
		if g.Layers[i].Name == name {
			return &g.Layers[i], true
		}
	}
	return nil, false
}

// CollectionIDs returns one collection id per layer.
func (g *GeoPackage) CollectionIDs() []CollectionID {
	ids := make([]CollectionID, 0, len(g.Layers))
	for _, l := range g.Layers {
		ids = append(ids, CollectionID{Database: g.ID, Name: l.Name})
	}
	return ids
}

// Layer represents a feature layer within a GeoPackage.
type Layer struct {
	Name           string   // Layer name from gpkg_contents.table_name
	Description    string   // Layer description
	IDColumn       string   // Primary key column, usually fid
	GeometryColumn string   // Name of the geometry column
	GeometryType   string   // Geometry type (POINT, POLYGON, etc.)
	SRID           int      // Spatial Reference ID
	Columns        []string // Attribute columns, without fid and geometry
	Extent         *BBox    // Bounding box from gpkg_contents (optional)
}

// TimeColumn returns the column used as time dimension, if any.
func (l *Layer) TimeColumn() (string, bool) {
	return FindColumn(l.Columns, TimeColumnNames)
}

// VerticalColumn returns the column used as vertical dimension, if any.
func (l *Layer) VerticalColumn() (string, bool) {
	return FindColumn(l.Columns, VerticalColumnNames)
}
