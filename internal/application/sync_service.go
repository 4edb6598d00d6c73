package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	PackagesAdded   int       `json:"packages_added"`
	PackagesRemoved int       `json:"packages_removed"`
	PackagesTotal   int       `json:"packages_total"`
	SyncedAt        time.Time `json:"synced_at"`
}

// SyncService keeps the package registry in line with its storage, on a
// fixed interval and whenever a change is signalled.
type SyncService struct {
	registry *PackageRegistry
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// serializes registry syncs
	syncOpMutex sync.Mutex

	lastMu   sync.RWMutex
	lastSync SyncResult
}

// NewSyncService creates a new sync service.
func NewSyncService(registry *PackageRegistry, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		registry: registry,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync scheduler. A zero interval disables it.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic sync disabled")
		return
	}
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.SyncNow(ctx); err != nil {
				s.logger.Error("sync failed", "error", err)
			}
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// SyncNow synchronizes the registry immediately.
func (s *SyncService) SyncNow(ctx context.Context) (SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{
		PackagesAdded:   stats.Added,
		PackagesRemoved: stats.Removed,
		PackagesTotal:   s.registry.PackageCount(),
		SyncedAt:        time.Now(),
	}
	s.lastMu.Lock()
	s.lastSync = result
	s.lastMu.Unlock()
	return result, nil
}

// LastSync returns the result of the most recent successful sync.
func (s *SyncService) LastSync() SyncResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
