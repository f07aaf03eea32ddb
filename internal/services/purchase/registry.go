package purchase

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// RegistryConfig controls idle eviction of per-user orchestrators
type RegistryConfig struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// DefaultRegistryConfig keeps an idle session for 30 minutes
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Registry hands out one orchestrator per user and disposes idle ones
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Orchestrator
	build    func(userID string) Deps
	config   RegistryConfig
	logger   ports.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry; build supplies each new orchestrator's collaborators
func NewRegistry(cfg RegistryConfig, build func(userID string) Deps, logger ports.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Orchestrator),
		build:    build,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Get returns the user's orchestrator, creating it on first use
func (r *Registry) Get(userID string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.sessions[userID]; ok {
		return o
	}
	o := New(userID, r.build(userID))
	r.sessions[userID] = o
	return o
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict disposes sessions with no running watch that have been idle past the timeout
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.config.IdleTimeout)

	r.mu.Lock()
	var idle []*Orchestrator
	for userID, o := range r.sessions {
		if o.Idle(cutoff) {
			idle = append(idle, o)
			delete(r.sessions, userID)
		}
	}
	r.mu.Unlock()

	for _, o := range idle {
		o.Dispose()
	}
	if len(idle) > 0 && r.logger != nil {
		r.logger.Debug("evicted idle checkout sessions", ports.Int("count", len(idle)))
	}
	return len(idle)
}

// Run evicts idle sessions every CleanupInterval until ctx ends or Shutdown is called
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Evict()
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops Run and disposes every session
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Orchestrator)
	r.mu.Unlock()

	for _, o := range sessions {
		o.Dispose()
	}
	if r.logger != nil {
		r.logger.Info("checkout sessions disposed", ports.Int("count", len(sessions)))
	}
}
