package shutdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicWorker runs a function on an interval until stopped
type PeriodicWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPeriodicWorker creates a worker; it does nothing until Start
func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs work every interval. The first run happens after one interval.
func (pw *PeriodicWorker) Start(work func(ctx context.Context)) {
	pw.wg.Add(1)
	go func() {
		defer pw.wg.Done()

		ticker := time.NewTicker(pw.interval)
		defer ticker.Stop()

		pw.logger.Debug("Periodic worker started", zap.String("worker", pw.name))
		for {
			select {
			case <-pw.ctx.Done():
				return
			case <-ticker.C:
				work(pw.ctx)
			}
		}
	}()
}

// Shutdown stops the worker and waits for the current run, bounded by ctx
func (pw *PeriodicWorker) Shutdown(ctx context.Context) error {
	pw.stopOnce.Do(pw.cancel)

	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pw.logger.Debug("Periodic worker stopped", zap.String("worker", pw.name))
		return nil
	case <-ctx.Done():
		pw.logger.Warn("Periodic worker shutdown timeout", zap.String("worker", pw.name))
		return ctx.Err()
	}
}
