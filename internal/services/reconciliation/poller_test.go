package reconciliation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		CloseWatchInterval:  5 * time.Millisecond,
		StatusWatchInterval: 20 * time.Millisecond,
		Ceiling:             2 * time.Second,
	}
}

type harness struct {
	settlement *mocks.MockSettlementClient
	surface    *mocks.FakeSurface
	poller     *Poller
	logger     *mocks.MockLogger
}

func newHarness(cfg Config) *harness {
	h := &harness{
		settlement: mocks.NewMockSettlementClient(),
		surface:    mocks.NewFakeSurface(),
		logger:     mocks.NewMockLogger(),
	}
	h.poller = NewPoller(h.settlement, h.surface, cfg, resilience.TestTimeoutConfig(), nil, h.logger)
	return h
}

func (h *harness) open(t *testing.T) *ports.SurfaceHandle {
	t.Helper()
	handle, err := h.surface.OpenWithDocument(context.Background(), "<form></form>")
	require.NoError(t, err)
	return handle
}

// collector records every onTerminal invocation
type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) onTerminal(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func waitDone(t *testing.T, w *Watch) Result {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not finish")
	}
	result, ok := w.Result()
	require.True(t, ok)
	return result
}

func TestPoller_StatusWatchSucceeds(t *testing.T) {
	h := newHarness(fastConfig())
	h.settlement.QueueStatus(mocks.Pending(), nil)
	h.settlement.SetStatusResponse(mocks.Paid(nil), nil)
	handle := h.open(t)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)
	assert.Equal(t, StateWatching, w.State())

	result := waitDone(t, w)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, TriggerStatusWatch, result.Trigger)
	assert.True(t, result.Outcome.IsPaid())
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, c.count())
	assert.True(t, h.surface.IsClosed(context.Background(), handle), "terminal state closes the surface")
}

func TestPoller_CloseWatchVerifiesImmediately(t *testing.T) {
	// Status-watch is slow so only the close-watch can resolve
	cfg := fastConfig()
	cfg.StatusWatchInterval = time.Hour
	h := newHarness(cfg)
	h.settlement.SetStatusResponse(mocks.Paid(nil), nil)
	handle := h.open(t)

	c := &collector{}
	start := time.Now()
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)

	h.surface.SimulateUserClose(handle)
	result := waitDone(t, w)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, TriggerCloseWatch, result.Trigger)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, h.settlement.StatusCallCount())
}

func TestPoller_CloseWithPendingLeavesStatusWatchRunning(t *testing.T) {
	cfg := fastConfig()
	cfg.StatusWatchInterval = 100 * time.Millisecond
	h := newHarness(cfg)
	h.settlement.QueueStatus(mocks.Pending(), nil)
	h.settlement.SetStatusResponse(mocks.Paid(nil), nil)
	handle := h.open(t)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)
	h.surface.SimulateUserClose(handle)

	result := waitDone(t, w)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, TriggerStatusWatch, result.Trigger)
	assert.Equal(t, 2, h.settlement.StatusCallCount(), "one close-watch query, one status-watch query")
}

func TestPoller_ExplicitFailure(t *testing.T) {
	h := newHarness(fastConfig())
	h.settlement.SetStatusResponse(mocks.Declined("insufficient funds"), nil)
	handle := h.open(t)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)

	result := waitDone(t, w)
	assert.Equal(t, StateFailed, result.State)
	assert.ErrorIs(t, result.Err, domain.ErrProcessorDeclined)
	var domainErr *domain.DomainError
	require.ErrorAs(t, result.Err, &domainErr)
	assert.Equal(t, "insufficient funds", domainErr.Message)
	assert.True(t, h.surface.IsClosed(context.Background(), handle))
}

func TestPoller_SuccessAfterTransportErrors(t *testing.T) {
	h := newHarness(fastConfig())
	const failures = 4
	for i := 0; i < failures; i++ {
		h.settlement.QueueStatus(nil, domain.ErrTransport)
	}
	h.settlement.SetStatusResponse(mocks.Paid(nil), nil)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1"}, c.onTerminal)

	result := waitDone(t, w)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, failures+1, h.settlement.StatusCallCount())
	assert.True(t, h.logger.Logged("payment status query failed"))
}

func TestPoller_CeilingTimesOutAndClosesSurface(t *testing.T) {
	cfg := fastConfig()
	cfg.Ceiling = 80 * time.Millisecond
	h := newHarness(cfg)
	h.settlement.SetStatusResponse(nil, domain.ErrTransport)
	handle := h.open(t)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)

	result := waitDone(t, w)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, TriggerCeiling, result.Trigger)
	assert.ErrorIs(t, result.Err, domain.ErrReconciliationTimeout)
	assert.Equal(t, 1, h.surface.CloseCount())
	assert.Equal(t, 1, c.count())
}

func TestPoller_RedirectFlowRunsStatusWatchOnly(t *testing.T) {
	cfg := fastConfig()
	cfg.Ceiling = 100 * time.Millisecond
	h := newHarness(cfg)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1"}, c.onTerminal)

	result := waitDone(t, w)
	assert.Equal(t, StateTimedOut, result.State)
	assert.GreaterOrEqual(t, h.settlement.StatusCallCount(), 2)
	assert.Equal(t, 0, h.surface.CloseCount(), "nothing to close without a handle")
}

func TestPoller_CancelStopsWithoutCallback(t *testing.T) {
	h := newHarness(fastConfig())
	handle := h.open(t)

	c := &collector{}
	w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, c.onTerminal)
	w.Cancel()
	w.Cancel()

	result := waitDone(t, w)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, c.count())
	assert.False(t, h.surface.IsClosed(context.Background(), handle), "cancel leaves the surface to its owner")

	calls := h.settlement.StatusCallCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, h.settlement.StatusCallCount(), "no queries after cancel")
}

func TestPoller_ParentCancellation(t *testing.T) {
	h := newHarness(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())

	c := &collector{}
	w := h.poller.Start(ctx, Target{UserID: "user-1", OrderNo: "ORD-1"}, c.onTerminal)
	cancel()

	result := waitDone(t, w)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, c.count())
}

func TestPoller_FirstTerminalWins(t *testing.T) {
	// Both watches see "paid" at about the same time
	cfg := Config{CloseWatchInterval: time.Millisecond, StatusWatchInterval: time.Millisecond, Ceiling: time.Second}
	for i := 0; i < 20; i++ {
		h := newHarness(cfg)
		h.settlement.SetStatusResponse(mocks.Paid(nil), nil)
		handle := h.open(t)
		h.surface.SimulateUserClose(handle)

		var calls atomic.Int32
		w := h.poller.Start(context.Background(), Target{UserID: "user-1", OrderNo: "ORD-1", Handle: handle}, func(Result) {
			calls.Add(1)
		})

		waitDone(t, w)
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load(), "outcome must be processed exactly once")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		terminal bool
	}{
		{StateIdle, "idle", false},
		{StateWatching, "watching", false},
		{StateSucceeded, "succeeded", true},
		{StateFailed, "failed", true},
		{StateTimedOut, "timed_out", true},
		{StateCancelled, "cancelled", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
		assert.Equal(t, tt.terminal, tt.state.IsTerminal())
	}
	assert.Equal(t, "unknown", State(42).String())
}
