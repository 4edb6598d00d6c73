package application

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// Properties never touched by aggregations and arithmetic.
var bookkeepingProperties = map[string]bool{
	"created_at":  true,
	"modified_at": true,
}

type loadCollection struct{ meta ProcessMetadata }

func (p *loadCollection) Metadata() ProcessMetadata { return p.meta }

func (p *loadCollection) Execute(ctx context.Context, args map[string]any, env *ProcessEnv) (any, error) {
	raw, _ := args["id"].(string)
	id, ok := domain.ParseCollectionID(raw)
	if !ok {
		return nil, &domain.ValidationError{
			Field:      "id",
			Value:      args["id"],
			Constraint: "database~collection",
			Message:    "collection id must name a database and a collection",
		}
	}

	bbox, crs, err := spatialExtent(args["spatial_extent"])
	if err != nil {
		return nil, err
	}
	if bbox == nil {
		return env.Cubes.VectorCube(ctx, env.Token, id, nil)
	}

	transformed, err := env.Cubes.TransformBBox(ctx, env.Token, id, *bbox, crs)
	if err != nil {
		return nil, err
	}
	return env.Cubes.VectorCube(ctx, env.Token, id, &transformed)
}

// spatialExtent reads {bbox, crs}. The bbox is a "(x1, y1, x2, y2)"
// string, a list of four numbers or an openEO west/south/east/north
// object. The crs defaults to EPSG:4326.
func spatialExtent(v any) (*domain.BBox, int, error) {
	extent, ok := v.(map[string]any)
	if !ok || extent == nil {
		return nil, 0, nil
	}

	var (
		bbox domain.BBox
		err  error
	)
	switch b := extent["bbox"].(type) {
	case nil:
		if _, hasWest := extent["west"]; !hasWest {
			return nil, 0, nil
		}
		bbox, err = bboxFromEdges(extent)
	case string:
		if b == "" {
			return nil, 0, nil
		}
		bbox, err = domain.ParseBBox(b)
	case []any:
		values, convErr := toFloats(b)
		if convErr != nil {
			return nil, 0, convErr
		}
		bbox, err = domain.BBoxFromSlice(values)
	default:
		err = fmt.Errorf("unsupported bbox %v: %w", b, domain.ErrInvalidBBox)
	}
	if err != nil {
		return nil, 0, err
	}

	crs, err := parseCRS(extent["crs"])
	if err != nil {
		return nil, 0, err
	}
	return &bbox, crs, nil
}

func bboxFromEdges(extent map[string]any) (domain.BBox, error) {
	var v [4]float64
	for i, key := range []string{"west", "south", "east", "north"} {
		f, ok := domain.ToFloat(extent[key])
		if !ok {
			return domain.BBox{}, fmt.Errorf("%s is not a number: %w", key, domain.ErrInvalidBBox)
		}
		v[i] = f
	}
	return domain.NewBBox(v[0], v[1], v[2], v[3]), nil
}

func parseCRS(v any) (int, error) {
	switch c := v.(type) {
	case nil:
		return domain.SRIDWGS84, nil
	case string:
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(c), "EPSG:"))
		if err != nil {
			return 0, fmt.Errorf("crs %q: %w", c, domain.ErrInvalidSRID)
		}
		return n, nil
	default:
		f, ok := domain.ToFloat(c)
		if !ok {
			return 0, fmt.Errorf("crs %v: %w", c, domain.ErrInvalidSRID)
		}
		return int(f), nil
	}
}

type aggregateTemporal struct{ meta ProcessMetadata }

func (p *aggregateTemporal) Metadata() ProcessMetadata { return p.meta }

func (p *aggregateTemporal) Execute(ctx context.Context, args map[string]any, env *ProcessEnv) (any, error) {
	vc, err := cubeArg(args)
	if err != nil {
		return nil, err
	}

	reducer, _ := args["reducer"].(map[string]any)
	graph, err := ParseProcessGraph(reducer["process_graph"])
	if err != nil {
		return nil, fmt.Errorf("reducer: %w", err)
	}
	reducerID, reducerNode, err := graph.ResultNode()
	if err != nil {
		return nil, fmt.Errorf("reducer: %w", err)
	}
	if _, err := env.Registry.Get(reducerNode.ProcessID); err != nil {
		return nil, err
	}

	pattern := ""
	if c, ok := args["context"].(map[string]any); ok {
		pattern, _ = c["pattern"].(string)
	}
	start, end, err := firstInterval(args["intervals"], pattern)
	if err != nil {
		return nil, err
	}

	timeName, hasTime, err := vc.TimeDimName(ctx)
	if err != nil {
		return nil, err
	}
	if !hasTime {
		return nil, fmt.Errorf("collection %s has no time dimension: %w", vc.ID(), domain.ErrInvalidInput)
	}

	groups, err := vc.FeaturesByGeometry(ctx)
	if err != nil {
		return nil, err
	}
	result, err := CopyFrom(ctx, vc, false, "_agg_temp", env.CubeOpts)
	if err != nil {
		return nil, err
	}

	now := env.now()
	for i, group := range groups {
		var order []string
		extractions := make(map[string][]float64)
		for _, f := range group {
			date, dated, err := featureTime(f.Properties[timeName])
			if err != nil {
				return nil, err
			}
			for _, prop := range numericProperties(f, timeName) {
				if _, seen := extractions[prop]; !seen {
					extractions[prop] = []float64{}
					order = append(order, prop)
				}
				if dated && !date.Before(start) && date.Before(end) {
					value, _ := f.GetFloatProperty(prop)
					extractions[prop] = append(extractions[prop], value)
				}
			}
		}

		props := map[string]any{
			"created_at": now.Format(time.RFC3339),
			timeName:     end.Format(time.RFC3339),
		}
		for _, prop := range order {
			reduced, err := env.Run(ctx, reducerID, reducerNode, extractions[prop])
			if err != nil {
				return nil, err
			}
			props[prop] = domain.SanitizeValue(reduced)
		}
		last := group[len(group)-1]
		for k, v := range last.Properties {
			if _, set := props[k]; !set {
				props[k] = v
			}
		}
		result.AddFeature(domain.NewFeature(strconv.Itoa(i), last.OrbGeometry(), props, false))
	}
	return result.Create(), nil
}

func firstInterval(v any, pattern string) (time.Time, time.Time, error) {
	intervals, _ := v.([]any)
	if len(intervals) == 0 {
		return time.Time{}, time.Time{}, &domain.ValidationError{
			Field: "intervals", Value: v, Constraint: "non-empty", Message: "at least one interval is required",
		}
	}
	interval, _ := intervals[0].([]any)
	if len(interval) != 2 {
		return time.Time{}, time.Time{}, &domain.ValidationError{
			Field: "intervals", Value: intervals[0], Constraint: "[start, end]", Message: "an interval needs a start and an end",
		}
	}

	bounds := make([]time.Time, 2)
	for i, raw := range interval {
		s, ok := raw.(string)
		if !ok {
			return time.Time{}, time.Time{}, &domain.ValidationError{
				Field: "intervals", Value: raw, Constraint: "string", Message: "interval bounds must be strings",
			}
		}
		t, err := parseWithPattern(s, pattern)
		if err != nil {
			return time.Time{}, time.Time{}, &domain.ValidationError{
				Field: "intervals", Value: s, Constraint: pattern, Message: err.Error(),
			}
		}
		bounds[i] = t
	}
	return bounds[0], bounds[1], nil
}

func parseWithPattern(s, pattern string) (time.Time, error) {
	if pattern == "" {
		t, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	return time.ParseInLocation(StrptimeLayout(pattern), s, time.UTC)
}

// StrptimeLayout converts a strptime pattern such as "%Y-%m-%d" into a
// Go time layout.
func StrptimeLayout(pattern string) string {
	directives := map[byte]string{
		'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'H': "15", 'I': "03",
		'M': "04", 'S': "05", 'f': "000000", 'p': "PM", 'b': "Jan", 'B': "January",
		'a': "Mon", 'A': "Monday", 'j': "002", 'z': "-0700", 'Z': "MST", '%': "%",
	}

	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' || i+1 == len(pattern) {
			b.WriteByte(pattern[i])
			continue
		}
		if layout, ok := directives[pattern[i+1]]; ok {
			b.WriteString(layout)
			i++
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// featureTime reads a time property. Unset values report false.
func featureTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t.UTC(), true, nil
	case string:
		if t == "" {
			return time.Time{}, false, nil
		}
		parsed, err := iso8601.ParseString(t)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("time value %q: %w", t, domain.ErrInvalidInput)
		}
		return parsed.UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("time value %v: %w", t, domain.ErrInvalidInput)
	}
}

// numericProperties lists the numeric properties of a feature in key
// order, leaving out bookkeeping and time columns.
func numericProperties(f *domain.Feature, timeName string) []string {
	var props []string
	for k, v := range f.Properties {
		if bookkeepingProperties[k] || k == timeName {
			continue
		}
		if _, ok := domain.ToFloat(v); ok {
			props = append(props, k)
		}
	}
	sort.Strings(props)
	return props
}

type saveResult struct{ meta ProcessMetadata }

func (p *saveResult) Metadata() ProcessMetadata { return p.meta }

func (p *saveResult) Execute(ctx context.Context, args map[string]any, _ *ProcessEnv) (any, error) {
	vc, err := cubeArg(args)
	if err != nil {
		return nil, err
	}
	format, _ := args["format"].(string)
	if !strings.EqualFold(format, "geojson") {
		return nil, fmt.Errorf("%q: %w", format, domain.ErrUnsupportedFormat)
	}
	return vc.ToGeoJSON(ctx)
}

type reduceProcess struct {
	meta   ProcessMetadata
	reduce func([]float64) float64
}

func (p *reduceProcess) Metadata() ProcessMetadata { return p.meta }

func (p *reduceProcess) Execute(_ context.Context, args map[string]any, _ *ProcessEnv) (any, error) {
	values, err := toFloats(args["input"])
	if err != nil {
		return nil, err
	}
	return p.reduce(values), nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// std is the population standard deviation.
func std(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

type arrayApply struct{ meta ProcessMetadata }

func (p *arrayApply) Metadata() ProcessMetadata { return p.meta }

func (p *arrayApply) Execute(ctx context.Context, args map[string]any, env *ProcessEnv) (any, error) {
	callback, _ := args["process"].(map[string]any)
	return env.RunGraph(ctx, callback["process_graph"], args["input"])
}

type mathProcess struct {
	meta ProcessMetadata
	op   func(a, b float64) float64
}

func (p *mathProcess) Metadata() ProcessMetadata { return p.meta }

func (p *mathProcess) Execute(ctx context.Context, args map[string]any, env *ProcessEnv) (any, error) {
	vc, err := cubeArg(args)
	if err != nil {
		return nil, err
	}

	y := args["y"]
	if ref, ok := y.(map[string]any); ok {
		var other any
		if graph, nested := ref["process_graph"]; nested {
			other, err = env.RunGraph(ctx, graph, vc)
		} else if nodeID, linked := fromNode(ref); linked {
			node, exists := env.Graph[nodeID]
			if !exists {
				return nil, fmt.Errorf("unknown node %q: %w", nodeID, domain.ErrInvalidProcessGraph)
			}
			other, err = env.Run(ctx, nodeID, node, vc)
		} else {
			return nil, fmt.Errorf("y must be a number, a process graph or a node reference: %w", domain.ErrInvalidInput)
		}
		if err != nil {
			return nil, err
		}
		otherCube, ok := other.(*VectorCube)
		if !ok {
			return nil, fmt.Errorf("y did not yield a vector cube: %w", domain.ErrInvalidInput)
		}
		return combineCubes(ctx, vc, otherCube, p.op, env.CubeOpts)
	}

	n, ok := domain.ToFloat(y)
	if !ok {
		return nil, &domain.ValidationError{Field: "y", Value: y, Constraint: "number", Message: "y must be numeric"}
	}
	return applyScalar(ctx, vc, n, p.op, env.CubeOpts)
}

// applyScalar computes op(n, value) for every numeric property.
func applyScalar(ctx context.Context, vc *VectorCube, n float64, op func(a, b float64) float64, opts CubeOptions) (*VectorCube, error) {
	result, timeName, err := copyWithFeatures(ctx, vc, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range result.Features() {
		for _, prop := range numericProperties(f, timeName) {
			value, _ := f.GetFloatProperty(prop)
			f.Properties[prop] = op(n, value)
		}
	}
	return result.Create(), nil
}

// combineCubes computes op(a, b) per property of features sharing an id.
func combineCubes(ctx context.Context, a, b *VectorCube, op func(a, b float64) float64, opts CubeOptions) (*VectorCube, error) {
	result, timeName, err := copyWithFeatures(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range result.Features() {
		props := numericProperties(f, timeName)
		if len(props) == 0 {
			continue
		}
		other, err := b.Feature(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		for _, prop := range props {
			value, _ := f.GetFloatProperty(prop)
			otherValue, ok := other.GetFloatProperty(prop)
			if !ok {
				return nil, fmt.Errorf("feature %s has no numeric property %q: %w", f.ID, prop, domain.ErrInvalidInput)
			}
			f.Properties[prop] = op(value, otherValue)
		}
	}
	return result.Create(), nil
}

func copyWithFeatures(ctx context.Context, vc *VectorCube, opts CubeOptions) (*StaticVectorCubeFactory, string, error) {
	result, err := CopyFrom(ctx, vc, true, "", opts)
	if err != nil {
		return nil, "", err
	}
	timeName, _, err := vc.TimeDimName(ctx)
	if err != nil {
		return nil, "", err
	}
	return result, timeName, nil
}

type toGeoJSON struct{ meta ProcessMetadata }

func (p *toGeoJSON) Metadata() ProcessMetadata { return p.meta }

func (p *toGeoJSON) Execute(ctx context.Context, args map[string]any, _ *ProcessEnv) (any, error) {
	if fc, ok := args["input"].(*domain.FeatureCollection); ok {
		return fc, nil
	}
	vc, err := cubeArg(args)
	if err != nil {
		return nil, err
	}
	return vc.ToGeoJSON(ctx)
}

func cubeArg(args map[string]any) (*VectorCube, error) {
	vc, ok := args["input"].(*VectorCube)
	if !ok || vc == nil {
		return nil, fmt.Errorf("input is not a vector cube: %w", domain.ErrInvalidProcessGraph)
	}
	return vc, nil
}

func toFloats(v any) ([]float64, error) {
	switch values := v.(type) {
	case nil:
		return []float64{}, nil
	case []float64:
		return values, nil
	case []any:
		out := make([]float64, 0, len(values))
		for _, raw := range values {
			f, ok := domain.ToFloat(raw)
			if !ok {
				return nil, &domain.ValidationError{Field: "data", Value: raw, Constraint: "number", Message: "array elements must be numeric"}
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, &domain.ValidationError{Field: "data", Value: v, Constraint: "array", Message: "expected an array of numbers"}
	}
}
