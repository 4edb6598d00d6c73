package application

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// Defaults used when collection metadata leaves a field empty.
const (
	DefaultDescription = "No description available."
	DefaultLicense     = "proprietary"
	EpochDateTime      = "1970-01-01T00:00:00Z"
)

var bareDate = regexp.MustCompile(`^\d\d\d\d.\d\d.\d\d$`)

// CollectionsLinks computes the navigation links of a collections page.
// The order is root, self, next, prev, first, last.
func CollectionsLinks(limit, offset int, url string, total int) []domain.Link {
	page := func(rel string, off int) domain.Link {
		return domain.Link{
			Rel:   rel,
			Href:  fmt.Sprintf("%s?limit=%d&offset=%d", url, limit, off),
			Title: rel,
		}
	}

	links := []domain.Link{
		{Rel: "root", Href: strings.Replace(url, "/collections", "", 1), Title: "root"},
		{Rel: "self", Href: url, Title: "self"},
	}
	next := addSaturated(offset, limit)
	if next < total {
		links = append(links, page("next", next))
	}
	if offset > 0 {
		links = append(links, page("prev", max(offset-limit, 0)), page("first", 0))
	}
	if next < total {
		links = append(links, page("last", total-limit))
	}
	return links
}

func addSaturated(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

// PagingLinks drops the root and self links.
func PagingLinks(links []domain.Link) []domain.Link {
	out := make([]domain.Link, 0, len(links))
	for _, l := range links {
		if l.Rel != "root" && l.Rel != "self" {
			out = append(out, l)
		}
	}
	return out
}

// CollectionDocument assembles the STAC collection of a cube.
func CollectionDocument(ctx context.Context, vc *VectorCube, baseURL string, full bool) (*domain.CollectionDocument, error) {
	metadata, err := vc.Metadata(ctx, full)
	if err != nil {
		return nil, err
	}
	id := vc.ID()

	doc := &domain.CollectionDocument{
		StacVersion:    domain.STACVersion,
		StacExtensions: domain.STACExtensions(),
		Type:           "Collection",
		ID:             id,
		Title:          metadata.Title,
		Description:    orDefault(metadata.Description, DefaultDescription),
		License:        orDefault(metadata.License, DefaultLicense),
		Keywords:       metadata.Keywords,
		Providers:      metadata.Providers,
		Extent:         metadata.Extent,
		Links: []domain.Link{
			{Rel: "self", Href: baseURL + "/collections/" + id, Type: domain.MediaTypeJSON},
			{Rel: "root", Href: baseURL, Type: domain.MediaTypeJSON},
			{Rel: "parent", Href: baseURL + "/collections/", Type: domain.MediaTypeJSON},
			{Rel: "items", Href: baseURL + "/collections/" + id + "/items", Type: domain.MediaTypeJSON},
		},
		Version: metadata.Version,
	}
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}
	if doc.Providers == nil {
		doc.Providers = []domain.Provider{}
	}

	if full {
		dims, err := vectorDimension(ctx, vc)
		if err != nil {
			return nil, err
		}
		doc.CubeDimensions = map[string]any{"vector": dims}
		if metadata.Summaries != nil {
			doc.Summaries = metadata.Summaries
		} else {
			doc.Summaries = map[string]any{}
		}
	}
	return doc, nil
}

func vectorDimension(ctx context.Context, vc *VectorCube) (*domain.VectorDimension, error) {
	geometryTypes, err := vc.GeometryTypes(ctx)
	if err != nil {
		return nil, err
	}
	bbox, err := vc.BBox(ctx)
	if err != nil {
		return nil, err
	}
	zDim, err := vc.VerticalDim(ctx, nil)
	if err != nil {
		return nil, err
	}
	srid, err := vc.SRID(ctx)
	if err != nil {
		return nil, err
	}

	axes := []string{"x", "y"}
	if len(zDim) > 0 {
		axes = append(axes, "z")
	}
	if geometryTypes == nil {
		geometryTypes = []string{}
	}
	return &domain.VectorDimension{
		Type:            "geometry",
		Axes:            axes,
		BBox:            bbox.String(),
		GeometryTypes:   geometryTypes,
		ReferenceSystem: srid,
	}, nil
}

// ItemDocument assembles the STAC item of a feature.
func ItemDocument(collectionID string, feature *domain.Feature, baseURL string) *domain.ItemDocument {
	properties := feature.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	collectionURL := baseURL + "/collections/" + collectionID
	return &domain.ItemDocument{
		StacVersion:    domain.STACVersion,
		StacExtensions: []string{domain.STACItemSchema},
		Type:           "Feature",
		ID:             feature.ID,
		BBox:           feature.BBox,
		Geometry:       feature.Geometry,
		Properties:     properties,
		Collection:     collectionID,
		Links: []domain.Link{
			{Rel: "self", Href: collectionURL + "/items/" + feature.ID},
			{Rel: "root", Href: baseURL, Type: domain.MediaTypeJSON},
			{Rel: "parent", Href: baseURL + "/collections", Type: domain.MediaTypeJSON},
			{Rel: "collection", Href: collectionURL, Type: domain.MediaTypeJSON},
		},
		Assets: map[string]any{},
	}
}

// ItemsDocument assembles a page of items with its navigation links.
func ItemsDocument(collectionID string, items []*domain.ItemDocument, baseURL string, limit, offset, featureCount int, now time.Time) *domain.ItemsDocument {
	if items == nil {
		items = []*domain.ItemDocument{}
	}
	itemsURL := baseURL + "/collections/" + collectionID + "/items"
	doc := &domain.ItemsDocument{
		Type:           "FeatureCollection",
		Features:       items,
		TimeStamp:      UTCTimestamp(now),
		NumberMatched:  featureCount,
		NumberReturned: len(items),
		Links: []domain.Link{
			{Rel: "self", Href: itemsURL, Type: domain.MediaTypeJSON},
			{Rel: "root", Href: baseURL, Type: domain.MediaTypeJSON},
			{Rel: "items", Href: itemsURL, Type: domain.MediaTypeJSON},
		},
	}
	if addSaturated(offset, limit) < featureCount {
		doc.Links = append(doc.Links, domain.Link{
			Rel:  "next",
			Href: fmt.Sprintf("%s?limit=%d&offset=%d", itemsURL, limit, offset+limit),
		})
	}
	return doc
}

// UTCTimestamp formats t in UTC with second precision and a Z suffix.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05") + "Z"
}

// FixTime normalizes the time property of a feature in place. A date,
// time or timestamp property is renamed to datetime, a missing one
// defaults to the epoch, bare dates get a midnight time and every value
// ends up marked as UTC.
func FixTime(feature *domain.Feature) {
	if feature.Properties == nil {
		feature.Properties = map[string]any{}
	}
	props := feature.Properties

	if _, ok := props["datetime"]; !ok {
		for _, name := range domain.TimeColumnNames {
			if v, ok := props[name]; ok {
				props["datetime"] = v
				delete(props, name)
				break
			}
		}
	}

	value := timeString(props["datetime"])
	if value == "" {
		value = EpochDateTime
	}
	if bareDate.MatchString(value) {
		value += "T00:00:00Z"
	}
	if !strings.HasSuffix(value, "Z") && !strings.HasSuffix(value, "+00:00") {
		value += "Z"
	}
	props["datetime"] = value
}

func timeString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
