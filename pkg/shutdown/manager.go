package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shutdown gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shutdown individual components",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// Func stops one component within ctx
type Func func(context.Context) error

// StepOption tunes a registered step
type StepOption func(*step)

// WithBudget caps how long one step may take out of the overall timeout, so a
// hung component cannot starve the steps registered before it.
func WithBudget(d time.Duration) StepOption {
	return func(s *step) { s.budget = d }
}

type step struct {
	name   string
	stop   Func
	budget time.Duration
}

// Manager stops components in reverse registration order. Register in
// dependency order:
//
//  1. Pending store and database
//  2. Surface host
//  3. Checkout sessions, which cancel their reconciliation watches
//  4. HTTP servers
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []step
	once  sync.Once
	err   error
}

// NewManager returns a manager whose whole shutdown must finish within timeout
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a step
func (sm *Manager) Register(name string, fn Func, opts ...StepOption) {
	s := step{name: name, stop: fn}
	for _, opt := range opts {
		opt(&s)
	}

	sm.mu.Lock()
	sm.steps = append(sm.steps, s)
	n := len(sm.steps)
	sm.mu.Unlock()

	sm.logger.Debug("Registered shutdown step", zap.String("component", name), zap.Int("position", n))
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx ends, then shuts down
func (sm *Manager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested", zap.Duration("timeout", sm.timeout))
	return sm.Shutdown()
}

// Shutdown runs every step once; later calls return the first result
func (sm *Manager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.run()
	})
	return sm.err
}

func (sm *Manager) run() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	steps := slices.Clone(sm.steps)
	sm.mu.Unlock()
	slices.Reverse(steps)

	var errs []error
	var skipped []string
	for _, s := range steps {
		if ctx.Err() != nil {
			skipped = append(skipped, s.name)
			continue
		}
		if err := sm.runStep(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(skipped) > 0 {
		sm.logger.Warn("Shutdown timeout exceeded", zap.Strings("skipped", skipped))
		errs = append(errs, fmt.Errorf("%w: skipped %s", ctx.Err(), strings.Join(skipped, ", ")))
	}

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())
	sm.logger.Info("Shutdown finished",
		zap.Int("steps", len(steps)),
		zap.Int("errors", len(errs)),
		zap.Duration("elapsed", elapsed),
	)
	return errors.Join(errs...)
}

func (sm *Manager) runStep(ctx context.Context, s step) error {
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	began := time.Now()
	err := s.stop(ctx)
	took := time.Since(began)
	componentShutdownDuration.WithLabelValues(s.name).Observe(took.Seconds())

	if err != nil {
		shutdownErrors.WithLabelValues(s.name).Inc()
		sm.logger.Error("Shutdown step failed", zap.String("component", s.name), zap.Error(err))
		return err
	}
	sm.logger.Info("Component stopped", zap.String("component", s.name), zap.Duration("elapsed", took))
	return nil
}

// RegisterHTTPServer drains an HTTP server
func (sm *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }, opts ...StepOption) {
	sm.Register(name, server.Shutdown, opts...)
}

// RegisterCloser registers a component with Close() error
func (sm *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	sm.Register(name, func(ctx context.Context) error {
		return closer.Close()
	})
}

// RegisterNoErr registers a shutdown function that cannot fail
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}
