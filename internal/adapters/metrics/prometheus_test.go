package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "")

	c.IncRemoteCalls("collections", true)
	c.IncRemoteCalls("collections", true)
	c.IncRemoteCalls("collections", false)
	c.IncCacheLookup("cubes", true)
	c.IncCacheLookup("cubes", false)
	c.IncCacheLookup("cubes", false)
	c.IncProcessExecutions("aggregate_temporal", true)
	c.IncStorageOperations("download", false)
	c.SetCachedCubes(4)
	c.SetPackagesLoaded(2)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"remote success", c.remoteCalls.WithLabelValues("collections", "success"), 2},
		{"remote error", c.remoteCalls.WithLabelValues("collections", "error"), 1},
		{"cache hit", c.cacheLookups.WithLabelValues("cubes", "hit"), 1},
		{"cache miss", c.cacheLookups.WithLabelValues("cubes", "miss"), 2},
		{"process", c.processExecutions.WithLabelValues("aggregate_temporal", "success"), 1},
		{"storage", c.storageOperations.WithLabelValues("download", "error"), 1},
		{"cached cubes", c.cachedCubes, 4},
		{"packages", c.packagesLoaded, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollectorsDoNotClash(t *testing.T) {
	// Separate registries allow more than one collector per process.
	NewCollector(prometheus.NewRegistry(), "")
	NewCollector(prometheus.NewRegistry(), "")
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "test")

	router := mux.NewRouter()
	router.Use(c.Middleware)
	router.HandleFunc("/collections/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a~b", "c~d"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/collections/"+id, nil))
	}

	got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues(http.MethodGet, "/collections/{id}", "4xx"))
	if got != 2 {
		t.Errorf("requests for route = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(c.httpRequestsTotal); n != 1 {
		t.Errorf("request series = %d, want 1", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "")
	c.ObserveRemoteDuration("items", 20*time.Millisecond)
	c.ObserveStorageDuration("list", time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"geodb_openeo_remote_call_duration_seconds_count",
		"geodb_openeo_storage_duration_seconds_count",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestStatusToString(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 100: "unknown"}
	for code, want := range tests {
		if got := statusToString(code); got != want {
			t.Errorf("statusToString(%d) = %q, want %q", code, got, want)
		}
	}
}
