// Package purchase composes the settlement client, pending store, payment
// surface and reconciliation poller into the purchase state machine.
package purchase

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/internal/services/reconciliation"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
)

// Reconciler starts reconciliation watches. *reconciliation.Poller satisfies it.
type Reconciler interface {
	Start(ctx context.Context, target reconciliation.Target, onTerminal func(reconciliation.Result)) *reconciliation.Watch
}

// Deps holds the orchestrator's collaborators
type Deps struct {
	Settlement ports.SettlementClient
	Store      ports.PendingPaymentStore
	Surface    ports.ExternalPaymentSurface
	Reconciler Reconciler
	Timeouts   *resilience.TimeoutConfig
	Logger     ports.Logger
	Now        func() time.Time
}

type attempt struct {
	startedAt time.Time
	handle    *ports.SurfaceHandle
	watch     *reconciliation.Watch
	planID    string
	processor domain.Processor
	orderNo   string
	document  string
	redirect  string
	id        uint64
	blocked   bool
	// final is set once the watch reported a terminal state
	final reconciliation.State
}

func (a *attempt) state() reconciliation.State {
	switch {
	case a.final != reconciliation.StateIdle:
		return a.final
	case a.watch != nil:
		return a.watch.State()
	default:
		return reconciliation.StateIdle
	}
}

// Orchestrator owns one user's purchase flow. All intents are safe to call
// concurrently; at most one attempt and one watch exist at a time.
type Orchestrator struct {
	mu sync.Mutex
	// recordMu orders pending record writes with the current-attempt check
	recordMu sync.Mutex

	deps       Deps
	userID     string
	rootCtx    context.Context
	rootCancel context.CancelFunc

	plans          []domain.SubscriptionPlan
	subscription   *domain.UserSubscription
	subLoaded      bool
	selectedPlanID string
	prompt         *ProcessorPrompt
	loading        bool
	purchasing     bool
	current        *attempt
	lastErr        error
	lastOutcome    *domain.ReconciliationOutcome
	seq            uint64
	disposed       bool
	lastActivity   time.Time
}

// New creates an orchestrator for userID
func New(userID string, deps Deps) *Orchestrator {
	if deps.Timeouts == nil {
		deps.Timeouts = resilience.DefaultTimeoutConfig()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:         deps,
		userID:       userID,
		rootCtx:      ctx,
		rootCancel:   cancel,
		lastActivity: deps.Now(),
	}
}

// UserID returns the user this orchestrator serves
func (o *Orchestrator) UserID() string {
	return o.userID
}

// Refresh reloads the plan catalog and the user's subscription
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}

	o.mu.Lock()
	o.loading = true
	o.mu.Unlock()

	sctx, cancel := o.deps.Timeouts.SettlementContext(ctx)
	defer cancel()

	plans, err := o.deps.Settlement.GetPlans(sctx)
	if err == nil {
		var sub *domain.UserSubscription
		sub, err = o.deps.Settlement.GetSubscription(sctx, o.userID)
		if err == nil {
			o.mu.Lock()
			o.plans = plans
			o.subscription = sub
			o.subLoaded = true
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.loading = false
	if err != nil {
		o.lastErr = err
		return err
	}
	return nil
}

// SelectPlan marks a plan as the user's current choice
func (o *Orchestrator) SelectPlan(ctx context.Context, planID string) error {
	if err := o.begin(); err != nil {
		return err
	}
	if err := o.ensurePlans(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if domain.FindPlan(o.plans, planID) == nil {
		o.lastErr = domain.NewDomainError(domain.ErrorCodePlanNotFound, "plan not found").WithDetail("plan_id", planID)
		return o.lastErr
	}
	o.selectedPlanID = planID
	return nil
}

// RequestPurchase opens the processor-choice prompt for planID. Purchasing the
// plan the user already holds is refused without a purchase call.
func (o *Orchestrator) RequestPurchase(ctx context.Context, planID string) error {
	if err := o.begin(); err != nil {
		return err
	}
	if err := o.ensureSubscription(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.subscription.Covers(planID) {
		o.lastErr = domain.NewDomainError(domain.ErrorCodeAlreadySubscribed, "plan already subscribed").WithDetail("plan_id", planID)
		err := o.lastErr
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	if err := o.ensurePlans(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if domain.FindPlan(o.plans, planID) == nil {
		o.lastErr = domain.NewDomainError(domain.ErrorCodePlanNotFound, "plan not found").WithDetail("plan_id", planID)
		return o.lastErr
	}
	o.selectedPlanID = planID
	o.prompt = &ProcessorPrompt{PlanID: planID, Processors: domain.Processors()}
	o.lastErr = nil
	return nil
}

// DismissPrompt closes the processor prompt and clears the shown error
func (o *Orchestrator) DismissPrompt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompt = nil
	o.lastErr = nil
	o.lastActivity = o.deps.Now()
}

// ChoosePaymentMethod starts a new attempt: any previous watch is cancelled
// and its surface closed, a backend order is created, the pending record is
// written, the surface is opened and exactly one watch is started.
func (o *Orchestrator) ChoosePaymentMethod(ctx context.Context, planID string, processorCode string) error {
	if err := o.begin(); err != nil {
		return err
	}
	processor, err := domain.ParseProcessor(processorCode)
	if err != nil {
		return o.fail(0, err)
	}
	if err := o.ensureSubscription(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.subscription.Covers(planID) {
		o.lastErr = domain.NewDomainError(domain.ErrorCodeAlreadySubscribed, "plan already subscribed").WithDetail("plan_id", planID)
		err := o.lastErr
		o.mu.Unlock()
		return err
	}
	o.prompt = nil
	previous := o.current
	o.seq++
	a := &attempt{id: o.seq, planID: planID, processor: processor, startedAt: o.deps.Now()}
	o.current = a
	o.purchasing = true
	o.lastErr = nil
	o.lastOutcome = nil
	o.mu.Unlock()

	o.teardown(previous, true)

	ictx, cancel := o.deps.Timeouts.IntentContext(ctx)
	defer cancel()

	sctx, scancel := o.deps.Timeouts.SettlementContext(ictx)
	result, err := o.deps.Settlement.InitiatePurchase(sctx, domain.PurchaseIntent{
		UserID:    o.userID,
		PlanID:    planID,
		Processor: processor,
	})
	scancel()
	if err != nil {
		observability.RecordPurchaseInitiated(string(processor), "error")
		return o.fail(a.id, err)
	}
	if !result.Success {
		observability.RecordPurchaseInitiated(string(processor), "refused")
		msg := result.Message()
		if msg == "" {
			msg = "purchase initiation failed"
		}
		return o.fail(a.id, domain.NewDomainError(domain.ErrorCodeInitiationFailed, msg).WithDetail("plan_id", planID))
	}
	observability.RecordPurchaseInitiated(string(processor), "success")

	kind, err := result.SurfaceKind()
	if err != nil {
		return o.fail(a.id, err)
	}

	// Recorded before the surface opens so a blocked window leaves the order on file
	written, err := o.writeRecord(ictx, a, domain.PendingPaymentRecord{
		OrderNo:          result.OrderNo,
		PlanID:           planID,
		Processor:        processor,
		StartedAtEpochMs: a.startedAt.UnixMilli(),
	})
	if !written {
		o.logInfo("discarding order of superseded attempt", ports.String("order_no", result.OrderNo))
		return nil
	}
	if err != nil {
		o.logWarn("failed to persist pending payment",
			ports.String("order_no", result.OrderNo),
			ports.Err(err),
		)
		// A redirect leaves this page; the record is what the return page verifies
		if kind == domain.SurfaceKindRedirect {
			return o.fail(a.id, domain.WrapError(domain.ErrorCodeInitiationFailed, "pending payment could not be recorded", err).
				WithDetail("order_no", result.OrderNo))
		}
	}

	o.logInfo("purchase initiated",
		ports.String("order_no", result.OrderNo),
		ports.String("plan_id", planID),
		ports.String("processor", string(processor)),
		ports.String("surface", string(kind)),
	)

	if kind == domain.SurfaceKindRedirect {
		return o.openRedirect(ictx, a, *result.RedirectTarget)
	}
	return o.openDocument(ictx, a, *result.ConfirmationDocument)
}

// writeRecord stores the pending record if a is still the current attempt.
// written is false once a newer attempt has taken over; nothing is stored then.
func (o *Orchestrator) writeRecord(ctx context.Context, a *attempt, record domain.PendingPaymentRecord) (written bool, err error) {
	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	o.mu.Lock()
	if o.current != a || o.disposed {
		o.mu.Unlock()
		return false, nil
	}
	a.orderNo = record.OrderNo
	o.mu.Unlock()

	return true, o.deps.Store.Write(ctx, record)
}

// RetrySurface reopens the payment window for an order whose first open was blocked
func (o *Orchestrator) RetrySurface(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}

	o.mu.Lock()
	a := o.current
	if a == nil || !a.blocked || a.document == "" {
		o.mu.Unlock()
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "no blocked payment window to reopen")
	}
	o.lastErr = nil
	o.purchasing = true
	o.mu.Unlock()

	sctx, cancel := o.deps.Timeouts.IntentContext(ctx)
	defer cancel()
	return o.openDocument(sctx, a, a.document)
}

func (o *Orchestrator) openDocument(ctx context.Context, a *attempt, document string) error {
	sctx, cancel := o.deps.Timeouts.SurfaceContext(ctx)
	handle, err := o.deps.Surface.OpenWithDocument(sctx, document)
	cancel()

	if err != nil {
		if !domain.IsDomainError(err, domain.ErrorCodeSurfaceBlocked) {
			err = domain.WrapError(domain.ErrorCodeSurfaceBlocked, "payment window could not be opened", err)
		}
		o.mu.Lock()
		if o.current == a {
			a.blocked = true
			a.document = document
		}
		o.mu.Unlock()
		o.logWarn("payment window blocked", ports.String("order_no", a.orderNo))
		return o.fail(a.id, err)
	}

	o.mu.Lock()
	if o.current != a {
		// Superseded while opening
		o.mu.Unlock()
		o.closeSurface(handle)
		return nil
	}
	a.blocked = false
	a.document = ""
	a.handle = handle
	o.mu.Unlock()

	o.startWatch(a)
	return nil
}

func (o *Orchestrator) openRedirect(ctx context.Context, a *attempt, target string) error {
	sctx, cancel := o.deps.Timeouts.SurfaceContext(ctx)
	err := o.deps.Surface.OpenWithRedirect(sctx, target)
	cancel()
	if err != nil {
		return o.fail(a.id, err)
	}

	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return nil
	}
	a.redirect = target
	o.mu.Unlock()

	o.startWatch(a)
	return nil
}

func (o *Orchestrator) startWatch(a *attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != a || o.disposed {
		return
	}
	attemptID := a.id
	a.watch = o.deps.Reconciler.Start(o.rootCtx, reconciliation.Target{
		UserID:  o.userID,
		OrderNo: a.orderNo,
		Handle:  a.handle,
	}, func(r reconciliation.Result) {
		o.onTerminal(attemptID, r)
	})
}

// onTerminal applies a watch's terminal result unless the attempt was superseded
func (o *Orchestrator) onTerminal(attemptID uint64, r reconciliation.Result) {
	o.mu.Lock()
	a := o.current
	if a == nil || a.id != attemptID {
		o.mu.Unlock()
		o.logInfo("ignoring result of superseded attempt", ports.String("state", r.State.String()))
		return
	}
	orderNo := a.orderNo
	o.mu.Unlock()

	ctx, cancel := o.deps.Timeouts.SettlementContext(o.rootCtx)
	defer cancel()

	var refreshed *domain.UserSubscription
	var refreshErr error
	if r.State == reconciliation.StateSucceeded {
		// Refetched, never patched from the outcome
		refreshed, refreshErr = o.deps.Settlement.GetSubscription(ctx, o.userID)
		if refreshErr != nil {
			o.logWarn("subscription refresh after payment failed", ports.Err(refreshErr))
		}
	}

	if _, err := pendingstore.ClearIfOrder(ctx, o.deps.Store, orderNo); err != nil {
		o.logWarn("failed to clear pending payment", ports.String("order_no", orderNo), ports.Err(err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != a {
		return
	}
	a.final = r.State
	o.purchasing = false
	o.lastOutcome = r.Outcome

	switch r.State {
	case reconciliation.StateSucceeded:
		if refreshErr == nil {
			o.subscription = refreshed
			o.subLoaded = true
		} else if r.Outcome != nil && r.Outcome.Subscription != nil {
			o.subscription = r.Outcome.Subscription
		}
		o.lastErr = nil
	default:
		o.lastErr = r.Err
	}
}

// CancelSubscription cancels the active subscription and refetches it.
// It does not interact with any running watch.
func (o *Orchestrator) CancelSubscription(ctx context.Context, reason string) error {
	if err := o.begin(); err != nil {
		return err
	}
	if err := o.ensureSubscription(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	active := o.subscription.IsActive()
	o.mu.Unlock()
	if !active {
		return o.setErr(domain.ErrNoActiveSubscription)
	}

	sctx, cancel := o.deps.Timeouts.SettlementContext(ctx)
	defer cancel()

	if err := o.deps.Settlement.CancelSubscription(sctx, o.userID, reason); err != nil {
		return o.setErr(err)
	}

	sub, err := o.deps.Settlement.GetSubscription(sctx, o.userID)
	if err != nil {
		return o.setErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscription = sub
	o.subLoaded = true
	o.lastErr = nil
	return nil
}

// Dispose tears down the active watch. Further intents fail.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	current := o.current
	o.mu.Unlock()

	if current != nil && current.watch != nil {
		current.watch.Cancel()
	}
	o.rootCancel()
}

// Idle reports whether no watch is running and nothing happened since cutoff
func (o *Orchestrator) Idle(cutoff time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && o.current.watch != nil && !o.current.state().IsTerminal() {
		return false
	}
	return o.lastActivity.Before(cutoff)
}

// Snapshot returns a copy of the derived state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Plans:          append([]domain.SubscriptionPlan(nil), o.plans...),
		SelectedPlanID: o.selectedPlanID,
		Loading:        o.loading,
		Purchasing:     o.purchasing,
		Error:          NewErrorView(o.lastErr),
	}
	if o.subscription != nil {
		sub := *o.subscription
		snap.Subscription = &sub
	}
	if o.prompt != nil {
		prompt := *o.prompt
		snap.Prompt = &prompt
	}
	if o.lastOutcome != nil {
		outcome := *o.lastOutcome
		snap.Outcome = &outcome
	}
	if a := o.current; a != nil {
		view := &AttemptView{
			StartedAt:      a.startedAt,
			OrderNo:        a.orderNo,
			PlanID:         a.planID,
			Processor:      a.processor,
			RedirectTarget: a.redirect,
			State:          a.state().String(),
			Blocked:        a.blocked,
		}
		if a.handle != nil {
			view.SurfaceURL = a.handle.URL
		}
		snap.Attempt = view
	}
	return snap
}

// ActiveWatch returns the running watch, if any
func (o *Orchestrator) ActiveWatch() *reconciliation.Watch {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	return o.current.watch
}

// begin refuses intents after Dispose and marks activity
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return domain.NewDomainError(domain.ErrorCodeInternalError, "checkout session has ended")
	}
	o.lastActivity = o.deps.Now()
	return nil
}

func (o *Orchestrator) ensurePlans(ctx context.Context) error {
	o.mu.Lock()
	loaded := o.plans != nil
	o.mu.Unlock()
	if loaded {
		return nil
	}

	sctx, cancel := o.deps.Timeouts.SettlementContext(ctx)
	defer cancel()
	plans, err := o.deps.Settlement.GetPlans(sctx)
	if err != nil {
		return o.setErr(err)
	}
	o.mu.Lock()
	o.plans = plans
	o.mu.Unlock()
	return nil
}

// ensureSubscription loads the user's subscription once so the guards never
// run against an unknown subscription
func (o *Orchestrator) ensureSubscription(ctx context.Context) error {
	o.mu.Lock()
	loaded := o.subLoaded
	o.mu.Unlock()
	if loaded {
		return nil
	}

	sctx, cancel := o.deps.Timeouts.SettlementContext(ctx)
	defer cancel()
	sub, err := o.deps.Settlement.GetSubscription(sctx, o.userID)
	if err != nil {
		return o.setErr(err)
	}
	o.mu.Lock()
	if !o.subLoaded {
		o.subscription = sub
		o.subLoaded = true
	}
	o.mu.Unlock()
	return nil
}

// fail records err for attemptID; attemptID 0 means no attempt was created
func (o *Orchestrator) fail(attemptID uint64, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if attemptID != 0 && (o.current == nil || o.current.id != attemptID) {
		return err
	}
	o.purchasing = false
	o.lastErr = err
	if attemptID != 0 && !domain.IsDomainError(err, domain.ErrorCodeSurfaceBlocked) {
		o.current = nil
	}
	o.logWarn("purchase attempt failed",
		ports.String("code", string(domain.GetErrorCode(err))),
		ports.Err(err),
	)
	return err
}

func (o *Orchestrator) setErr(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
	return err
}

// teardown cancels a previous attempt's watch and optionally closes its surface
func (o *Orchestrator) teardown(a *attempt, closeSurface bool) {
	if a == nil {
		return
	}
	o.mu.Lock()
	watch, handle := a.watch, a.handle
	o.mu.Unlock()

	if watch != nil {
		watch.Cancel()
	}
	if closeSurface && handle != nil {
		o.closeSurface(handle)
	}
}

func (o *Orchestrator) closeSurface(handle *ports.SurfaceHandle) {
	ctx, cancel := o.deps.Timeouts.SurfaceContext(o.rootCtx)
	defer cancel()
	if err := o.deps.Surface.Close(ctx, handle); err != nil {
		o.logWarn("failed to close payment window", ports.String("surface_id", handle.ID), ports.Err(err))
	}
}

func (o *Orchestrator) logInfo(msg string, fields ...ports.Field) {
	if o.deps.Logger != nil {
		o.deps.Logger.Info(msg, append(fields, ports.String("user_id", o.userID))...)
	}
}

func (o *Orchestrator) logWarn(msg string, fields ...ports.Field) {
	if o.deps.Logger != nil {
		o.deps.Logger.Warn(msg, append(fields, ports.String("user_id", o.userID))...)
	}
}
