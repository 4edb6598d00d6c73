package application

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

//go:embed processes/*.yaml
var processMetadataFS embed.FS

// ProcessMetadata is the openEO description of a process, served as is.
type ProcessMetadata map[string]any

// ID returns the process id.
func (m ProcessMetadata) ID() string {
	id, _ := m["id"].(string)
	return id
}

// ProcessParameter is a declared process parameter.
type ProcessParameter struct {
	Name     string
	Optional bool
}

// Parameters returns the declared parameters in declaration order.
func (m ProcessMetadata) Parameters() []ProcessParameter {
	raw, _ := m["parameters"].([]any)
	params := make([]ProcessParameter, 0, len(raw))
	for _, p := range raw {
		var entry map[string]any
		switch v := p.(type) {
		case map[string]any:
			entry = v
		case ProcessMetadata:
			entry = v
		default:
			continue
		}
		name, _ := entry["name"].(string)
		optional, _ := entry["optional"].(bool)
		params = append(params, ProcessParameter{Name: name, Optional: optional})
	}
	return params
}

// Process is an executable openEO process. The arguments carry the
// node arguments plus "input", the result of the previous node.
type Process interface {
	Metadata() ProcessMetadata
	Execute(ctx context.Context, args map[string]any, env *ProcessEnv) (any, error)
}

// CubeSource resolves collections to vector cubes.
type CubeSource interface {
	VectorCube(ctx context.Context, token string, id domain.CollectionID, bbox *domain.BBox) (*VectorCube, error)
	TransformBBox(ctx context.Context, token string, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error)
}

// ProcessEnv is the execution environment shared by all nodes of one
// process graph run.
type ProcessEnv struct {
	Token    string
	Cubes    CubeSource
	Registry *ProcessRegistry
	Graph    ProcessGraph
	CubeOpts CubeOptions
	Metrics  output.MetricsCollector
	Now      func() time.Time
}

func (e *ProcessEnv) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Run executes a single node with input as its "input" argument.
func (e *ProcessEnv) Run(ctx context.Context, nodeID string, node *ProcessNode, input any) (any, error) {
	process, err := e.Registry.Get(node.ProcessID)
	if err != nil {
		return nil, &domain.ProcessError{ProcessID: node.ProcessID, NodeID: nodeID, Err: err}
	}

	args := make(map[string]any, len(node.Arguments)+1)
	for k, v := range node.Arguments {
		args[k] = v
	}
	args["input"] = input

	result, err := process.Execute(ctx, args, e)
	if e.Metrics != nil {
		e.Metrics.IncProcessExecutions(node.ProcessID, err == nil)
	}
	if err != nil {
		return nil, &domain.ProcessError{ProcessID: node.ProcessID, NodeID: nodeID, Err: err}
	}
	return result, nil
}

// RunGraph executes the result node of a nested single-node graph, as
// used by reducers and callbacks.
func (e *ProcessEnv) RunGraph(ctx context.Context, raw any, input any) (any, error) {
	graph, err := ParseProcessGraph(raw)
	if err != nil {
		return nil, err
	}
	nodeID, node, err := graph.ResultNode()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, nodeID, node, input)
}

// ProcessNode is one node of a flat process graph.
type ProcessNode struct {
	ProcessID   string         `json:"process_id"`
	Arguments   map[string]any `json:"arguments"`
	Description string         `json:"description,omitempty"`
	Result      bool           `json:"result,omitempty"`
}

// FromNode returns the node id referenced by an argument of the form
// {"from_node": id}.
func (n *ProcessNode) FromNode(arg string) (string, bool) {
	return fromNode(n.Arguments[arg])
}

func fromNode(v any) (string, bool) {
	ref, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := ref["from_node"].(string)
	return id, ok
}

// ProcessGraph is a flat process graph keyed by node id.
type ProcessGraph map[string]*ProcessNode

// ParseProcessGraph converts a decoded JSON value into a graph.
func ParseProcessGraph(raw any) (ProcessGraph, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing process graph: %w", domain.ErrInvalidProcessGraph)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidProcessGraph)
	}
	var graph ProcessGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidProcessGraph)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("empty process graph: %w", domain.ErrInvalidProcessGraph)
	}
	for id, node := range graph {
		if node == nil || node.ProcessID == "" {
			return nil, fmt.Errorf("node %q has no process_id: %w", id, domain.ErrInvalidProcessGraph)
		}
	}
	return graph, nil
}

// ResultNode returns the node flagged as result. A graph with a single
// node needs no flag.
func (g ProcessGraph) ResultNode() (string, *ProcessNode, error) {
	if len(g) == 1 {
		for id, node := range g {
			return id, node, nil
		}
	}
	var (
		resultID string
		result   *ProcessNode
	)
	for id, node := range g {
		if !node.Result {
			continue
		}
		if result != nil {
			return "", nil, fmt.Errorf("multiple result nodes: %w", domain.ErrInvalidProcessGraph)
		}
		resultID, result = id, node
	}
	if result == nil {
		return "", nil, fmt.Errorf("no result node: %w", domain.ErrInvalidProcessGraph)
	}
	return resultID, result, nil
}

// Chain follows arguments.data.from_node from the result node back to
// the first node and returns the node ids in execution order.
func (g ProcessGraph) Chain() ([]string, error) {
	id, node, err := g.ResultNode()
	if err != nil {
		return nil, err
	}

	chain := []string{id}
	seen := map[string]bool{id: true}
	for {
		prev, ok := node.FromNode("data")
		if !ok {
			break
		}
		next, exists := g[prev]
		if !exists {
			return nil, fmt.Errorf("node %q references unknown node %q: %w", id, prev, domain.ErrInvalidProcessGraph)
		}
		if seen[prev] {
			return nil, fmt.Errorf("cycle at node %q: %w", prev, domain.ErrInvalidProcessGraph)
		}
		seen[prev] = true
		chain = append(chain, prev)
		id, node = prev, next
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ProcessRegistry holds the processes available to process graphs.
type ProcessRegistry struct {
	mu        sync.RWMutex
	processes map[string]Process
	links     []map[string]any
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{
		processes: make(map[string]Process),
		links:     []map[string]any{{}},
	}
}

// NewDefaultProcessRegistry creates a registry with all built-in
// processes and their embedded metadata.
func NewDefaultProcessRegistry() (*ProcessRegistry, error) {
	metadata, err := loadProcessMetadata()
	if err != nil {
		return nil, err
	}

	builtins := map[string]func(ProcessMetadata) Process{
		"load_collection":    func(m ProcessMetadata) Process { return &loadCollection{meta: m} },
		"aggregate_temporal": func(m ProcessMetadata) Process { return &aggregateTemporal{meta: m} },
		"save_result":        func(m ProcessMetadata) Process { return &saveResult{meta: m} },
		"mean":               func(m ProcessMetadata) Process { return &reduceProcess{meta: m, reduce: mean} },
		"std":                func(m ProcessMetadata) Process { return &reduceProcess{meta: m, reduce: std} },
		"median":             func(m ProcessMetadata) Process { return &reduceProcess{meta: m, reduce: median} },
		"array_apply":        func(m ProcessMetadata) Process { return &arrayApply{meta: m} },
		"add":                func(m ProcessMetadata) Process { return &mathProcess{meta: m, op: func(a, b float64) float64 { return a + b }} },
		"multiply":           func(m ProcessMetadata) Process { return &mathProcess{meta: m, op: func(a, b float64) float64 { return a * b }} },
		"to_geojson":         func(m ProcessMetadata) Process { return &toGeoJSON{meta: m} },
	}

	r := NewProcessRegistry()
	for id, build := range builtins {
		m, ok := metadata[id]
		if !ok {
			return nil, fmt.Errorf("no metadata for process %q", id)
		}
		r.Register(build(m))
	}
	return r, nil
}

func loadProcessMetadata() (map[string]ProcessMetadata, error) {
	entries, err := processMetadataFS.ReadDir("processes")
	if err != nil {
		return nil, fmt.Errorf("reading process metadata: %w", err)
	}

	out := make(map[string]ProcessMetadata, len(entries))
	for _, e := range entries {
		data, err := processMetadataFS.ReadFile(path.Join("processes", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		// Nested mappings must decode as map[string]any.
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		m := ProcessMetadata(raw)
		if m.ID() == "" {
			return nil, fmt.Errorf("%s: missing id", e.Name())
		}
		out[m.ID()] = m
	}
	return out, nil
}

// Register adds or replaces a process.
func (r *ProcessRegistry) Register(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[p.Metadata().ID()] = p
}

// Get returns a process by id.
func (r *ProcessRegistry) Get(id string) (Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, domain.ErrProcessNotFound)
	}
	return p, nil
}

// List returns all processes sorted by id.
func (r *ProcessRegistry) List() []Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Process, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.processes[id])
	}
	return out
}

// Links returns the links served with the process listing.
func (r *ProcessRegistry) Links() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, len(r.links))
	copy(out, r.links)
	return out
}

// AddLink appends a link to the process listing.
func (r *ProcessRegistry) AddLink(link map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link)
}

// FileFormats returns the supported input and output formats.
func FileFormats() map[string]any {
	return map[string]any{
		"input": map[string]any{},
		"output": map[string]any{
			"GTiff": map[string]any{
				"title":       "GeoTiff",
				"description": "Export to GeoTiff. Doesn't support cloud-optimized GeoTiffs (COGs) yet.",
				"gis_data_types": []string{"raster"},
				"parameters": map[string]any{
					"tiled": map[string]any{
						"type":        "boolean",
						"description": "This option can be used to force creation of tiled TIFF files [true]. By default [false] stripped TIFF files are created.",
						"default":     "false",
					},
					"compress": map[string]any{
						"type":        "string",
						"description": "Set the compression to use.",
						"default":     "NONE",
						"enum":        []string{"JPEG", "LZW", "DEFLATE", "NONE"},
					},
					"jpeg_quality": map[string]any{
						"type":        "integer",
						"description": "Set the JPEG quality when using JPEG.",
						"minimum":     1,
						"maximum":     100,
						"default":     75,
					},
				},
				"links": []map[string]any{{
					"href":  "https://gdal.org/drivers/raster/gtiff.html",
					"rel":   "about",
					"title": "GDAL on the GeoTiff file format and storage options",
				}},
			},
			"GeoJSON": map[string]any{
				"title":          "GeoJSON",
				"description":    "Export to GeoJSON.",
				"gis_data_types": []string{"vector"},
				"links": []map[string]any{{
					"href":  "https://geojson.org/",
					"rel":   "about",
					"title": "GeoJSON is a format for encoding a variety of geographic data structures.",
				}},
			},
		},
	}
}
