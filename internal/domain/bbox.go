// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Common SRID constants.
const (
	SRIDWGS84       = 4326 // WGS 84
	SRIDWebMercator = 3857 // Web Mercator
)

// CRS84 is the OGC URI used for collection extents.
const CRS84 = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"

// BBox is an axis aligned bounding box (minx, miny, maxx, maxy).
type BBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// WorldBBox covers the whole WGS 84 range.
var WorldBBox = BBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}

// NewBBox creates a bounding box from its four corners.
func NewBBox(minX, minY, maxX, maxY float64) BBox {
	return BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// BBoxFromBound converts an orb bound.
func BBoxFromBound(b orb.Bound) BBox {
	return BBox{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

// ParseBBox parses "minx,miny,maxx,maxy". Surrounding brackets and blanks
// are ignored, so "(1, 2, 3, 4)" is accepted too. Values must be finite
// and the minimum corner must not exceed the maximum.
func ParseBBox(s string) (BBox, error) {
	cleaned := strings.NewReplacer("(", "", ")", "", "[", "", "]", "", " ", "").Replace(s)
	parts := strings.Split(cleaned, ",")
	if len(parts) != 4 {
		return BBox{}, &ValidationError{
			Field:      "bbox",
			Value:      s,
			Constraint: "minx,miny,maxx,maxy",
			Message:    "bbox must consist of four comma separated numbers",
		}
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return BBox{}, &ValidationError{
				Field:      "bbox",
				Value:      s,
				Constraint: "numeric",
				Message:    fmt.Sprintf("bbox value %q is not a number", p),
			}
		}
		v[i] = f
	}
	b := BBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	if !b.IsValid() {
		return BBox{}, &ValidationError{
			Field:      "bbox",
			Value:      s,
			Constraint: "minx<=maxx,miny<=maxy",
			Message:    "bbox minimum must not exceed its maximum",
		}
	}
	return b, nil
}

// BBoxFromSlice converts a decoded JSON array of four numbers.
func BBoxFromSlice(values []float64) (BBox, error) {
	if len(values) != 4 {
		return BBox{}, fmt.Errorf("expected 4 values, got %d: %w", len(values), ErrInvalidBBox)
	}
	return BBox{MinX: values[0], MinY: values[1], MaxX: values[2], MaxY: values[3]}, nil
}

// IsValid checks that min <= max on both axes.
func (b BBox) IsValid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Bound returns the orb representation.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// Slice returns the four corners in minx, miny, maxx, maxy order.
func (b BBox) Slice() []float64 {
	return []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// String renders the box as a tuple, e.g. "(9.0, 52.0, 11.0, 54.0)".
func (b BBox) String() string {
	return "(" + strings.Join([]string{
		formatTupleFloat(b.MinX),
		formatTupleFloat(b.MinY),
		formatTupleFloat(b.MaxX),
		formatTupleFloat(b.MaxY),
	}, ", ") + ")"
}

// QueryValue renders the box the way it is passed in query strings.
func (b BBox) QueryValue() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.MinX, 'f', -1, 64),
		strconv.FormatFloat(b.MinY, 'f', -1, 64),
		strconv.FormatFloat(b.MaxX, 'f', -1, 64),
		strconv.FormatFloat(b.MaxY, 'f', -1, 64),
	}, ",")
}

func formatTupleFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// BBoxKey is an optional bounding box usable as a map or cache key.
// The zero value stands for "no bbox", i.e. the whole collection.
type BBoxKey struct {
	Valid bool
	BBox  BBox
}

// GlobalKey returns the key used when no bbox is given.
func GlobalKey() BBoxKey {
	return BBoxKey{}
}

// KeyOf returns the cache key for an optional bbox.
func KeyOf(b *BBox) BBoxKey {
	if b == nil {
		return BBoxKey{}
	}
	return BBoxKey{Valid: true, BBox: *b}
}

// Ptr returns the bbox, or nil for the global key.
func (k BBoxKey) Ptr() *BBox {
	if !k.Valid {
		return nil
	}
	b := k.BBox
	return &b
}

// String returns a printable form for logging.
func (k BBoxKey) String() string {
	if !k.Valid {
		return "global"
	}
	return k.BBox.String()
}
