package domain

// Link is a STAC/openEO hyperlink.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Common media types.
const (
	MediaTypeJSON    = "application/json"
	MediaTypeGeoJSON = "application/geo+json"
	MediaTypeHTML    = "text/html"
	MediaTypeOpenAPI = "application/vnd.oai.openapi+json;version=3.0"
)
