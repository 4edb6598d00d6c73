package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncRemoteCalls increments the remote store call counter.
	IncRemoteCalls(operation string, success bool)

	// ObserveRemoteDuration records the duration of a remote call.
	ObserveRemoteDuration(operation string, duration time.Duration)

	// IncCacheLookup counts a cache hit or miss.
	IncCacheLookup(cache string, hit bool)

	// SetCachedCubes sets the number of vector cubes held in memory.
	SetCachedCubes(count int)

	// IncProcessExecutions counts executed openEO processes.
	IncProcessExecutions(processID string, success bool)

	// SetPackagesLoaded sets the number of loaded GeoPackages.
	SetPackagesLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRemoteCalls implements MetricsCollector.
func (n *NoOpMetrics) IncRemoteCalls(_ string, _ bool) {}

// ObserveRemoteDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRemoteDuration(_ string, _ time.Duration) {}

// IncCacheLookup implements MetricsCollector.
func (n *NoOpMetrics) IncCacheLookup(_ string, _ bool) {}

// SetCachedCubes implements MetricsCollector.
func (n *NoOpMetrics) SetCachedCubes(_ int) {}

// IncProcessExecutions implements MetricsCollector.
func (n *NoOpMetrics) IncProcessExecutions(_ string, _ bool) {}

// SetPackagesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetPackagesLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
