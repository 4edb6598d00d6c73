package geodb

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// row is one decoded JSON object of a PostgREST response.
type row map[string]any

// decodeRows decodes a list of rows. geoDB functions wrap their result as
// [{"src": [...]}], which is unwrapped.
func decodeRows(body []byte) ([]row, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(raw) == 1 {
		if src, ok := raw[0]["src"]; ok {
			list, _ := src.([]any)
			rows := make([]row, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					rows = append(rows, normalize(m).(map[string]any))
				}
			}
			return rows, nil
		}
	}

	rows := make([]row, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, normalize(m).(map[string]any))
	}
	return rows, nil
}

// normalize turns json.Number values into int64 or float64.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

// decodeGeometry reads a geometry column, either hex EWKB or GeoJSON.
func decodeGeometry(v any) (orb.Geometry, error) {
	switch g := v.(type) {
	case nil:
		return nil, nil
	case string:
		data, err := hex.DecodeString(g)
		if err != nil {
			return nil, fmt.Errorf("geometry is not hex encoded: %w", err)
		}
		geom, _, err := ewkb.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", err)
		}
		return geom, nil
	case map[string]any:
		data, err := json.Marshal(g)
		if err != nil {
			return nil, err
		}
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", err)
		}
		return geom.Geometry(), nil
	default:
		return nil, fmt.Errorf("unsupported geometry value %T", v)
	}
}

// parseBox parses a PostGIS box such as "BOX(9 52,11 54)".
func parseBox(s string) (domain.BBox, error) {
	inner := strings.TrimSpace(s)
	if i := strings.IndexByte(inner, '('); i >= 0 {
		inner = inner[i+1:]
	}
	inner = strings.TrimSuffix(inner, ")")

	corners := strings.Split(inner, ",")
	if len(corners) != 2 {
		return domain.BBox{}, fmt.Errorf("box %q: %w", s, domain.ErrInvalidBBox)
	}
	var v []float64
	for _, corner := range corners {
		for _, part := range strings.Fields(corner) {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return domain.BBox{}, fmt.Errorf("box %q: %w", s, domain.ErrInvalidBBox)
			}
			v = append(v, f)
		}
	}
	if len(v) != 4 {
		return domain.BBox{}, fmt.Errorf("box %q: %w", s, domain.ErrInvalidBBox)
	}
	return domain.NewBBox(v[0], v[1], v[2], v[3]), nil
}

// decodeBox reads a box result, either a bare JSON string or rows
// carrying the box under key. A null box reports false.
func decodeBox(body []byte, key string) (domain.BBox, bool, error) {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		if s == "" {
			return domain.BBox{}, false, nil
		}
		b, err := parseBox(s)
		return b, err == nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return domain.BBox{}, false, err
	}
	for _, r := range rows {
		if s, ok := r[key].(string); ok && s != "" {
			b, err := parseBox(s)
			return b, err == nil, err
		}
	}
	return domain.BBox{}, false, nil
}

// intValue reads an integer that PostgREST may return as number or string.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// idString renders a row id.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
