package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/services/reconciliation"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *mocks.MockSettlementClient) {
	t.Helper()
	settlement := mocks.NewMockSettlementClient()
	settlement.SetPlans(testPlans, nil)
	surface := mocks.NewFakeSurface()
	backend := pendingstore.NewMemoryBackend()
	timeouts := resilience.TestTimeoutConfig()
	poller := reconciliation.NewPoller(settlement, surface, slowStatus(), timeouts, nil, nil)

	reg := NewRegistry(RegistryConfig{IdleTimeout: time.Minute, CleanupInterval: 10 * time.Millisecond}, func(userID string) Deps {
		return Deps{
			Settlement: settlement,
			Store:      backend.ForUser(userID),
			Surface:    surface,
			Reconciler: poller,
			Timeouts:   timeouts,
		}
	}, mocks.NewMockLogger())
	t.Cleanup(reg.Shutdown)
	return reg, settlement
}

func TestRegistry_GetReturnsSameSession(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a := reg.Get("user-1")
	b := reg.Get("user-1")
	c := reg.Get("user-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "user-2", c.UserID())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_EvictsOnlyIdleSessions(t *testing.T) {
	reg, settlement := newTestRegistry(t)
	now := time.Now()
	reg.now = func() time.Time { return now }

	idle := reg.Get("idle-user")
	busy := reg.Get("busy-user")
	settlement.SetInitiateResponse(documentResult("ORD-1"), nil)
	require.NoError(t, busy.ChoosePaymentMethod(context.Background(), "month", "alipay"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Evict())
	assert.Equal(t, 1, reg.Len())
	assert.Same(t, busy, reg.Get("busy-user"))

	// Evicted sessions are disposed
	assert.Error(t, idle.Refresh(context.Background()))
	assert.NotSame(t, idle, reg.Get("idle-user"))
}

func TestRegistry_RecentSessionSurvives(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Get("user-1")
	assert.Equal(t, 0, reg.Evict())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ShutdownDisposesAll(t *testing.T) {
	reg, settlement := newTestRegistry(t)
	settlement.SetInitiateResponse(documentResult("ORD-1"), nil)
	o := reg.Get("user-1")
	require.NoError(t, o.ChoosePaymentMethod(context.Background(), "month", "alipay"))
	watch := o.ActiveWatch()
	require.NotNil(t, watch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	reg.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	select {
	case <-watch.Done():
	case <-time.After(time.Second):
		t.Fatal("watch was not cancelled")
	}
	assert.Equal(t, 0, reg.Len())
}
