// Package reconciliation watches one external payment surface and one backend
// order until the payment is settled, definitively fails, or the ceiling expires.
package reconciliation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
)

// Runner starts background goroutines. *resourcemgmt.GoroutineTracker satisfies it.
type Runner interface {
	GoWithContext(ctx context.Context, goroutineType string, fn func(ctx context.Context))
}

type plainRunner struct{}

func (plainRunner) GoWithContext(ctx context.Context, _ string, fn func(ctx context.Context)) {
	go fn(ctx)
}

// Target identifies what a watch reconciles
type Target struct {
	// Handle is nil for redirect flows; only the status-watch runs then
	Handle  *ports.SurfaceHandle
	UserID  string
	OrderNo string
}

// Result is delivered once when a watch reaches a terminal state
type Result struct {
	Outcome *domain.ReconciliationOutcome
	Err     error
	Trigger string
	State   State
	Elapsed time.Duration
}

// Poller starts watches. It holds no per-watch state and may be shared.
type Poller struct {
	settlement ports.SettlementClient
	surface    ports.ExternalPaymentSurface
	timeouts   *resilience.TimeoutConfig
	runner     Runner
	logger     ports.Logger
	config     Config
}

// NewPoller creates a poller. runner may be nil.
func NewPoller(settlement ports.SettlementClient, surface ports.ExternalPaymentSurface, cfg Config, timeouts *resilience.TimeoutConfig, runner Runner, logger ports.Logger) *Poller {
	if runner == nil {
		runner = plainRunner{}
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Poller{
		settlement: settlement,
		surface:    surface,
		timeouts:   timeouts,
		runner:     runner,
		logger:     logger,
		config:     cfg,
	}
}

// Watch is one running reconciliation. The first terminal event wins; every
// later event is dropped.
type Watch struct {
	poller     *Poller
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	onTerminal func(Result)
	target     Target
	startedAt  time.Time
	result     Result
	resolved   atomic.Bool
	state      atomic.Int32
}

// Start enters Watching and launches the close-watch (when there is a surface
// handle), the status-watch and the ceiling timer. onTerminal runs once, on
// the goroutine that resolved the watch, unless the watch is cancelled.
func (p *Poller) Start(parent context.Context, target Target, onTerminal func(Result)) *Watch {
	ctx, cancel := context.WithCancel(parent)
	w := &Watch{
		poller:     p,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		onTerminal: onTerminal,
		target:     target,
		startedAt:  time.Now(),
	}
	w.state.Store(int32(StateWatching))
	observability.WatchStarted()

	p.logInfo("reconciliation watch started",
		ports.String("order_no", target.OrderNo),
		ports.Bool("has_surface", target.Handle != nil),
	)

	if target.Handle != nil {
		p.runner.GoWithContext(ctx, TriggerCloseWatch, w.closeWatch)
	}
	p.runner.GoWithContext(ctx, TriggerStatusWatch, w.statusWatch)
	p.runner.GoWithContext(ctx, TriggerCeiling, w.ceiling)

	// Host shutdown cancels parent; treat that like an explicit cancel
	go func() {
		<-ctx.Done()
		w.resolve(StateCancelled, nil, nil, TriggerCancel)
	}()

	return w
}

// State returns the current state
func (w *Watch) State() State {
	return State(w.state.Load())
}

// OrderNo returns the order being reconciled
func (w *Watch) OrderNo() string {
	return w.target.OrderNo
}

// Done is closed once the watch is terminal and onTerminal has returned
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Result returns the terminal result once Done is closed
func (w *Watch) Result() (Result, bool) {
	select {
	case <-w.done:
		return w.result, true
	default:
		return Result{}, false
	}
}

// Cancel stops every timer without reporting an outcome and without closing
// the surface. No-op once terminal.
func (w *Watch) Cancel() {
	w.resolve(StateCancelled, nil, nil, TriggerCancel)
}

func (w *Watch) closeWatch(ctx context.Context) {
	ticker := time.NewTicker(w.poller.config.CloseWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.poller.surface.IsClosed(ctx, w.target.Handle) {
				continue
			}
			w.poller.logInfo("payment surface closed, verifying order",
				ports.String("order_no", w.target.OrderNo),
			)
			// A non-definitive answer here leaves the status-watch in charge
			w.check(ctx, TriggerCloseWatch)
			return
		}
	}
}

func (w *Watch) statusWatch(ctx context.Context) {
	ticker := time.NewTicker(w.poller.config.StatusWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.check(ctx, TriggerStatusWatch) {
				return
			}
		}
	}
}

func (w *Watch) ceiling(ctx context.Context) {
	timer := time.NewTimer(w.poller.config.Ceiling)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		err := domain.NewDomainError(domain.ErrorCodeReconciliationTimeout,
			"payment confirmation is taking longer than expected").
			WithDetail("order_no", w.target.OrderNo)
		w.resolve(StateTimedOut, nil, err, TriggerCeiling)
	}
}

// check runs one status query and resolves on a definitive answer
func (w *Watch) check(ctx context.Context, trigger string) bool {
	if w.resolved.Load() {
		return true
	}

	qctx, cancel := w.poller.timeouts.StatusQueryContext(ctx)
	outcome, err := w.poller.settlement.QueryPaymentStatus(qctx, w.target.UserID, w.target.OrderNo)
	cancel()

	if err != nil {
		// Transport errors never move the state machine
		observability.RecordStatusQuery(trigger, "transport_error")
		if ctx.Err() == nil {
			w.poller.logWarn("payment status query failed",
				ports.String("order_no", w.target.OrderNo),
				ports.String("trigger", trigger),
				ports.Err(err),
			)
		}
		return false
	}

	switch {
	case outcome.IsPaid():
		observability.RecordStatusQuery(trigger, "paid")
		return w.resolve(StateSucceeded, outcome, nil, trigger)
	case outcome.IsFailed():
		observability.RecordStatusQuery(trigger, "failed")
		msg := outcome.Message()
		if msg == "" {
			msg = "the payment was declined"
		}
		err := domain.NewDomainError(domain.ErrorCodeProcessorDeclined, msg).
			WithDetail("order_no", w.target.OrderNo)
		return w.resolve(StateFailed, outcome, err, trigger)
	default:
		observability.RecordStatusQuery(trigger, "pending")
		return false
	}
}

// resolve is the single exit. Only the caller that wins the CAS proceeds.
func (w *Watch) resolve(state State, outcome *domain.ReconciliationOutcome, err error, trigger string) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	w.cancel()
	w.state.Store(int32(state))

	elapsed := time.Since(w.startedAt)
	observability.WatchStopped()
	observability.RecordReconciliation(state.String(), trigger, elapsed.Seconds())

	if state != StateCancelled {
		w.closeSurface()
	}

	w.result = Result{
		Outcome: outcome,
		Err:     err,
		Trigger: trigger,
		State:   state,
		Elapsed: elapsed,
	}

	w.poller.logInfo("reconciliation watch finished",
		ports.String("order_no", w.target.OrderNo),
		ports.String("state", state.String()),
		ports.String("trigger", trigger),
		ports.Duration("elapsed", elapsed),
	)

	if state != StateCancelled && w.onTerminal != nil {
		w.onTerminal(w.result)
	}
	close(w.done)
	return true
}

func (w *Watch) closeSurface() {
	if w.target.Handle == nil {
		return
	}
	// The watch context is already cancelled; closing needs its own budget
	ctx, cancel := w.poller.timeouts.SurfaceContext(context.Background())
	defer cancel()

	if w.poller.surface.IsClosed(ctx, w.target.Handle) {
		return
	}
	if err := w.poller.surface.Close(ctx, w.target.Handle); err != nil {
		w.poller.logWarn("failed to close payment surface",
			ports.String("surface_id", w.target.Handle.ID),
			ports.Err(err),
		)
	}
}

func (p *Poller) logInfo(msg string, fields ...ports.Field) {
	if p.logger != nil {
		p.logger.Info(msg, fields...)
	}
}

func (p *Poller) logWarn(msg string, fields ...ports.Field) {
	if p.logger != nil {
		p.logger.Warn(msg, fields...)
	}
}
