package domain

import "github.com/paulmach/orb/geojson"

// CollectionsDocument is the response of the collections listing.
type CollectionsDocument struct {
	Collections []*CollectionDocument `json:"collections"`
	Links       []Link                `json:"links"`
}

// CollectionDocument is a STAC collection.
type CollectionDocument struct {
	StacVersion    string     `json:"stac_version"`
	StacExtensions []string   `json:"stac_extensions"`
	Type           string     `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	License        string     `json:"license"`
	Keywords       []string   `json:"keywords"`
	Providers      []Provider `json:"providers"`
	Extent         Extent     `json:"extent"`
	Links          []Link     `json:"links"`
	CubeDimensions any        `json:"cube:dimensions,omitempty"`
	Summaries      any        `json:"summaries,omitempty"`
	Version        string     `json:"version,omitempty"`
}

// VectorDimension describes the geometry dimension of a collection.
type VectorDimension struct {
	Type            string   `json:"type"`
	Axes            []string `json:"axes"`
	BBox            string   `json:"bbox"`
	GeometryTypes   []string `json:"geometry_types"`
	ReferenceSystem int      `json:"reference_system"`
}

// ItemDocument is a STAC item.
type ItemDocument struct {
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions"`
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	BBox           []string          `json:"bbox"`
	Geometry       *geojson.Geometry `json:"geometry"`
	Properties     map[string]any    `json:"properties"`
	Collection     string            `json:"collection"`
	Links          []Link            `json:"links"`
	Assets         map[string]any    `json:"assets"`
}

// ItemsDocument is a page of STAC items.
type ItemsDocument struct {
	Type           string          `json:"type"`
	Features       []*ItemDocument `json:"features"`
	TimeStamp      string          `json:"timeStamp"`
	NumberMatched  int             `json:"numberMatched"`
	NumberReturned int             `json:"numberReturned"`
	Links          []Link          `json:"links"`
}
