package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/cache"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// ConnectionCacheConfig holds configuration for the connection cache.
type ConnectionCacheConfig struct {
	Capacity int
	TTL      time.Duration
}

// ConnectionCache keeps one provider per access token. An entry is
// dropped when its TTL elapses or the token expires.
type ConnectionCache struct {
	factory output.ProviderFactory
	cache   *cache.TokenCache[output.VectorCubeProvider]
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewConnectionCache creates a connection cache over a provider factory.
func NewConnectionCache(
	factory output.ProviderFactory,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg ConnectionCacheConfig,
) *ConnectionCache {
	if cfg.Capacity == 0 {
		cfg.Capacity = 128
	}
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Minute
	}

	return &ConnectionCache{
		factory: factory,
		cache:   cache.NewTokenCache[output.VectorCubeProvider](cfg.Capacity, cfg.TTL),
		metrics: metrics,
		logger:  logger,
	}
}

// Provider returns the cached provider for token, creating it on a miss.
func (c *ConnectionCache) Provider(ctx context.Context, token string) (output.VectorCubeProvider, error) {
	if p, ok := c.cache.Get(token); ok {
		c.metrics.IncCacheLookup("connection", true)
		return p, nil
	}
	c.metrics.IncCacheLookup("connection", false)

	p, err := c.factory(ctx, token)
	if err != nil {
		return nil, err
	}
	c.cache.Insert(token, p)
	c.logger.Debug("created provider connection", "connections", c.cache.Len())
	return p, nil
}

// Len returns the number of cached connections.
func (c *ConnectionCache) Len() int {
	return c.cache.Len()
}
