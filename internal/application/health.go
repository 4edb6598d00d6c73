package application

import (
	"context"
	"sort"

	"github.com/jobrunner/geodb-openeo/internal/ports/input"
)

// ComponentCheck reports whether a dependency is usable.
type ComponentCheck func(ctx context.Context) error

// HealthService provides health check functionality.
type HealthService struct {
	provider string
	catalog  *CatalogService
	checks   map[string]ComponentCheck
}

// NewHealthService creates a new health service.
func NewHealthService(provider string, catalog *CatalogService) *HealthService {
	return &HealthService{
		provider: provider,
		catalog:  catalog,
		checks:   make(map[string]ComponentCheck),
	}
}

// AddCheck registers a readiness check for a component.
func (s *HealthService) AddCheck(name string, check ComponentCheck) {
	s.checks[name] = check
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if every component check passes.
func (s *HealthService) IsReady(ctx context.Context) bool {
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			return false
		}
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	cubes := 0
	if s.catalog != nil {
		cubes = s.catalog.CachedCubes()
	}

	return input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      ready,
		Provider:   s.provider,
		CachedCube: cubes,
		Components: components,
	}
}
