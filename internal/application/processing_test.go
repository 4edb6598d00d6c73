package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

func newTestProcessing(t *testing.T, source *mockDataSource) *ProcessingService {
	t.Helper()
	registry, err := NewDefaultProcessRegistry()
	if err != nil {
		t.Fatalf("NewDefaultProcessRegistry failed: %v", err)
	}
	return NewProcessingService(registry, &fakeCubes{source: source}, CubeOptions{}, &output.NoOpMetrics{}, discardLogger())
}

func TestProcessingExecuteRequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantPrefix string
	}{
		{"empty body", "  ", invalidGraphMessage},
		{"broken json", "{process", invalidGraphMessage + " Error: "},
		{"no process", `{"graph": {}}`, "Request body must contain parameter 'process'."},
		{
			"missing argument",
			`{"process": {"process_graph": {"load": {"process_id": "load_collection", "arguments": {}, "result": true}}}}`,
			"Request body must contain parameter 'id'.",
		},
	}

	svc := newTestProcessing(t, newMockDataSource(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Execute(context.Background(), "token", []byte(tt.body))
			var reqErr *domain.RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("err = %v, want RequestError", err)
			}
			if !strings.HasPrefix(reqErr.Message, tt.wantPrefix) {
				t.Errorf("message = %q, want prefix %q", reqErr.Message, tt.wantPrefix)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Error("request errors must map to invalid input")
			}
		})
	}
}

func TestProcessingExecuteUnknownProcess(t *testing.T) {
	svc := newTestProcessing(t, newMockDataSource(nil))
	body := `{"process": {"process_graph": {"x": {"process_id": "ndvi", "arguments": {}}}}}`

	_, err := svc.Execute(context.Background(), "token", []byte(body))
	if !errors.Is(err, domain.ErrProcessNotFound) {
		t.Errorf("err = %v, want ErrProcessNotFound", err)
	}
}

func TestProcessingExecuteChain(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "load and save",
			body: `{"process": {"process_graph": {
				"load1": {"process_id": "load_collection", "arguments": {"id": "db~cities"}},
				"save1": {"process_id": "save_result", "arguments": {"data": {"from_node": "load1"}, "format": "GeoJSON"}, "result": true}
			}}}`,
			want: 2,
		},
		{
			name: "cube result is converted",
			body: `{"process": {"process_graph": {
				"load1": {"process_id": "load_collection", "arguments": {"id": "db~cities", "spatial_extent": {"bbox": "9,52,11,54"}}, "result": true}
			}}}`,
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestProcessing(t, newMockDataSource(nil))
			result, err := svc.Execute(context.Background(), "token", []byte(tt.body))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			fc, ok := result.(*domain.FeatureCollection)
			if !ok {
				t.Fatalf("result = %T, want *domain.FeatureCollection", result)
			}
			if fc.Type != "FeatureCollection" {
				t.Errorf("Type = %q", fc.Type)
			}
			if len(fc.Features) != tt.want {
				t.Errorf("len(Features) = %d, want %d", len(fc.Features), tt.want)
			}
		})
	}
}

func TestProcessingListings(t *testing.T) {
	svc := newTestProcessing(t, newMockDataSource(nil))

	processes := svc.Processes(context.Background())
	if len(processes) != 10 {
		t.Fatalf("len(processes) = %d, want 10", len(processes))
	}
	if processes[0]["id"] != "add" {
		t.Errorf("first process = %v, want add", processes[0]["id"])
	}
	if len(svc.Links()) != 1 {
		t.Errorf("len(Links()) = %d, want 1", len(svc.Links()))
	}
	if _, ok := svc.FileFormats(context.Background())["output"]; !ok {
		t.Error("file formats without output")
	}
}
