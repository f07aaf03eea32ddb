// Package resourcemgmt keeps account of background goroutines so shutdown can
// drain them and stuck ones show up in logs and metrics.
package resourcemgmt

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines_count",
		Help: "Current number of goroutines in the process",
	})

	goroutineLeakDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goroutine_leaks_detected_total",
		Help: "Total number of checks that found the process far above its baseline",
	})

	trackedGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracked_goroutines",
		Help: "Number of tracked goroutines by kind",
	}, []string{"kind"})

	overdueGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overdue_goroutines",
		Help: "Tracked goroutines alive past the overdue limit, by kind",
	}, []string{"kind"})
)

// Config controls the monitor loop
type Config struct {
	CheckInterval time.Duration
	// LeakThreshold is how far above the startup baseline the process may grow
	LeakThreshold int
	// OverdueAfter flags tracked goroutines that outlive it. Watches stop at
	// the reconciliation ceiling, so it should sit a little past that.
	OverdueAfter time.Duration
}

// DefaultConfig returns the monitor settings for a 10 minute ceiling
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		LeakThreshold: 100,
		OverdueAfter:  11 * time.Minute,
	}
}

type entry struct {
	kind    string
	started time.Time
}

// GoroutineTracker starts goroutines on behalf of callers and remembers them
// until they return.
type GoroutineTracker struct {
	cfg      Config
	logger   *zap.Logger
	baseline int
	nextID   atomic.Uint64
	wg       sync.WaitGroup

	mu      sync.RWMutex
	running map[uint64]entry
}

// NewGoroutineTracker records the current goroutine count as the baseline.
// Zero fields in cfg fall back to DefaultConfig.
func NewGoroutineTracker(logger *zap.Logger, cfg Config) *GoroutineTracker {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.LeakThreshold <= 0 {
		cfg.LeakThreshold = def.LeakThreshold
	}
	if cfg.OverdueAfter <= 0 {
		cfg.OverdueAfter = def.OverdueAfter
	}

	return &GoroutineTracker{
		cfg:      cfg,
		logger:   logger,
		baseline: runtime.NumGoroutine(),
		running:  make(map[uint64]entry),
	}
}

// GoWithContext runs fn(ctx) on a new tracked goroutine labelled kind
func (gt *GoroutineTracker) GoWithContext(ctx context.Context, kind string, fn func(ctx context.Context)) {
	id := gt.nextID.Add(1)

	gt.mu.Lock()
	gt.running[id] = entry{kind: kind, started: time.Now()}
	gt.mu.Unlock()
	trackedGoroutines.WithLabelValues(kind).Inc()

	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		defer gt.release(id)
		fn(ctx)
	}()
}

func (gt *GoroutineTracker) release(id uint64) {
	gt.mu.Lock()
	e, ok := gt.running[id]
	delete(gt.running, id)
	gt.mu.Unlock()

	if !ok {
		return
	}
	trackedGoroutines.WithLabelValues(e.kind).Dec()
	gt.logger.Debug("Tracked goroutine finished",
		zap.String("kind", e.kind),
		zap.Duration("lifetime", time.Since(e.started)),
	)
}

// Wait blocks until every tracked goroutine has returned or ctx ends
func (gt *GoroutineTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		gt.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		gt.logger.Warn("Tracked goroutines still running at deadline",
			zap.Any("by_kind", gt.Snapshot().ByKind),
		)
		return ctx.Err()
	}
}

// StartMonitoring checks for growth and overdue goroutines until ctx ends
func (gt *GoroutineTracker) StartMonitoring(ctx context.Context) {
	gt.logger.Info("Goroutine monitoring started",
		zap.Int("baseline", gt.baseline),
		zap.Duration("interval", gt.cfg.CheckInterval),
		zap.Duration("overdue_after", gt.cfg.OverdueAfter),
	)

	ticker := time.NewTicker(gt.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gt.check(time.Now())
		}
	}
}

func (gt *GoroutineTracker) check(now time.Time) {
	total := runtime.NumGoroutine()
	goroutineCount.Set(float64(total))

	if growth := total - gt.baseline; growth > gt.cfg.LeakThreshold {
		goroutineLeakDetected.Inc()
		gt.logger.Warn("Goroutine count far above baseline",
			zap.Int("current", total),
			zap.Int("baseline", gt.baseline),
			zap.Int("threshold", gt.cfg.LeakThreshold),
		)
	}

	overdue := gt.overdue(now)
	overdueGoroutines.Reset()
	for kind, n := range overdue {
		overdueGoroutines.WithLabelValues(kind).Set(float64(n))
		gt.logger.Warn("Tracked goroutines overdue",
			zap.String("kind", kind),
			zap.Int("count", n),
			zap.Duration("limit", gt.cfg.OverdueAfter),
		)
	}
}

// overdue counts running goroutines older than OverdueAfter, by kind
func (gt *GoroutineTracker) overdue(now time.Time) map[string]int {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range gt.running {
		if now.Sub(e.started) > gt.cfg.OverdueAfter {
			out[e.kind]++
		}
	}
	return out
}

// Stats is a point-in-time view of the tracker
type Stats struct {
	Total    int
	Baseline int
	Tracked  int
	ByKind   map[string]int
}

// Snapshot returns current counts
func (gt *GoroutineTracker) Snapshot() Stats {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	byKind := make(map[string]int)
	for _, e := range gt.running {
		byKind[e.kind]++
	}
	return Stats{
		Total:    runtime.NumGoroutine(),
		Baseline: gt.baseline,
		Tracked:  len(gt.running),
		ByKind:   byKind,
	}
}
