package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

const invalidGraphMessage = "Request must contain body with valid process graph, see openEO specification."

// ProcessingService runs synchronous openEO process graphs.
type ProcessingService struct {
	registry *ProcessRegistry
	cubes    CubeSource
	cubeOpts CubeOptions
	metrics  output.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessingService creates a new processing service.
func NewProcessingService(
	registry *ProcessRegistry,
	cubes CubeSource,
	cubeOpts CubeOptions,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *ProcessingService {
	return &ProcessingService{
		registry: registry,
		cubes:    cubes,
		cubeOpts: cubeOpts,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Processes implements input.ProcessingService.
func (s *ProcessingService) Processes(_ context.Context) []map[string]any {
	processes := s.registry.List()
	out := make([]map[string]any, 0, len(processes))
	for _, p := range processes {
		out = append(out, p.Metadata())
	}
	return out
}

// Links returns the links of the process listing.
func (s *ProcessingService) Links() []map[string]any {
	return s.registry.Links()
}

// FileFormats implements input.ProcessingService.
func (s *ProcessingService) FileFormats(_ context.Context) map[string]any {
	return FileFormats()
}

type processRequest struct {
	Process *struct {
		ProcessGraph map[string]any `json:"process_graph"`
	} `json:"process"`
}

// Execute implements input.ProcessingService. The nodes linked through
// arguments.data.from_node run in order, each receiving the previous
// result as input. A vector cube result is converted to GeoJSON.
func (s *ProcessingService) Execute(ctx context.Context, token string, body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &domain.RequestError{Message: invalidGraphMessage}
	}

	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &domain.RequestError{Message: invalidGraphMessage + " Error: " + err.Error()}
	}
	if req.Process == nil {
		return nil, &domain.RequestError{Message: "Request body must contain parameter 'process'."}
	}

	graph, err := ParseProcessGraph(req.Process.ProcessGraph)
	if err != nil {
		return nil, err
	}
	chain, err := graph.Chain()
	if err != nil {
		return nil, err
	}

	env := &ProcessEnv{
		Token:    token,
		Cubes:    s.cubes,
		Registry: s.registry,
		Graph:    graph,
		CubeOpts: s.cubeOpts,
		Metrics:  s.metrics,
		Now:      s.now,
	}

	var current any
	for _, nodeID := range chain {
		node := graph[nodeID]
		process, err := s.registry.Get(node.ProcessID)
		if err != nil {
			return nil, err
		}
		if err := ensureParameters(process.Metadata(), node.Arguments); err != nil {
			return nil, err
		}

		s.logger.Debug("executing process", "node", nodeID, "process", node.ProcessID)
		current, err = env.Run(ctx, nodeID, node, current)
		if err != nil {
			return nil, err
		}
	}

	if vc, ok := current.(*VectorCube); ok {
		return vc.ToGeoJSON(ctx)
	}
	return current, nil
}

func ensureParameters(metadata ProcessMetadata, args map[string]any) error {
	for _, p := range metadata.Parameters() {
		if p.Optional {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return &domain.RequestError{Message: fmt.Sprintf("Request body must contain parameter '%s'.", p.Name)}
		}
	}
	return nil
}
