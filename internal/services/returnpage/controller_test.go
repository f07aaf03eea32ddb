package returnpage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

func newTestController() (*Controller, *mocks.MockSettlementClient, *pendingstore.MemoryBackend) {
	settlement := mocks.NewMockSettlementClient()
	backend := pendingstore.NewMemoryBackend()
	c := NewController(settlement, backend, DefaultConfig(), resilience.TestTimeoutConfig(), mocks.NewMockLogger())
	c.now = func() time.Time { return testNow }
	return c, settlement, backend
}

func writeRecord(t *testing.T, backend *pendingstore.MemoryBackend, userID, orderNo string, startedAt time.Time) {
	t.Helper()
	require.NoError(t, backend.ForUser(userID).Write(context.Background(), domain.PendingPaymentRecord{
		OrderNo:          orderNo,
		PlanID:           "month",
		Processor:        domain.ProcessorPayPal,
		StartedAtEpochMs: startedAt.UnixMilli(),
	}))
}

func activeSub() *domain.UserSubscription {
	return &domain.UserSubscription{PlanID: "month", Status: domain.SubscriptionStatusActive, StartDate: testNow, EndDate: testNow.AddDate(0, 0, 30)}
}

func TestOrderFromParams(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		expect string
	}{
		{"out_trade_no", "out_trade_no=A1", "A1"},
		{"order_no", "order_no=B2", "B2"},
		{"out_trade_no wins", "order_no=B2&out_trade_no=A1", "A1"},
		{"blank ignored", "out_trade_no=%20&order_no=B2", "B2"},
		{"none", "token=x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, OrderFromParams(params))
		})
	}
}

func TestVerify_NoSessionMakesNoBackendCall(t *testing.T) {
	c, settlement, _ := newTestController()

	result := c.Verify(context.Background(), "", url.Values{ParamOutTradeNo: {"ORD-1"}})

	assert.Equal(t, StateError, result.State)
	assert.ErrorIs(t, result.Err, domain.ErrNotAuthenticated)
	assert.Equal(t, "ORD-1", result.OrderNo)
	assert.False(t, result.Retryable())
	plans, subs, initiate, status, cancel := settlement.Counts()
	assert.Zero(t, plans+subs+initiate+status+cancel)
}

func TestVerify_MissingOrder(t *testing.T) {
	c, settlement, _ := newTestController()

	result := c.Verify(context.Background(), "user-1", url.Values{})

	assert.Equal(t, StateError, result.State)
	assert.ErrorIs(t, result.Err, domain.ErrMissingOrder)
	assert.Equal(t, 0, settlement.StatusCallCount())
}

func TestVerify_SuccessFromParams(t *testing.T) {
	c, settlement, backend := newTestController()
	writeRecord(t, backend, "user-1", "ORD-1", testNow.Add(-time.Minute))
	settlement.SetStatusResponse(mocks.Paid(nil), nil)
	settlement.SetSubscription(activeSub(), nil)

	result := c.Verify(context.Background(), "user-1", url.Values{ParamOrderNo: {"ORD-1"}})

	require.NoError(t, result.Err)
	assert.Equal(t, StateSuccess, result.State)
	assert.Equal(t, "params", result.Source)
	assert.Equal(t, "month", result.PlanID)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, "month", result.Subscription.PlanID)
	assert.Equal(t, "ORD-1", settlement.LastStatusOrder)
	assert.Equal(t, 1, settlement.StatusCallCount(), "no polling loop")

	rec, err := backend.ForUser("user-1").Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestVerify_FallsBackToStore(t *testing.T) {
	c, settlement, backend := newTestController()
	writeRecord(t, backend, "user-1", "ORD-STORED", testNow.Add(-5*time.Minute))
	settlement.SetStatusResponse(mocks.Paid(nil), nil)

	result := c.Verify(context.Background(), "user-1", nil)

	assert.Equal(t, StateSuccess, result.State)
	assert.Equal(t, "store", result.Source)
	assert.Equal(t, "ORD-STORED", result.OrderNo)
	assert.Equal(t, "ORD-STORED", settlement.LastStatusOrder)
}

func TestVerify_StaleRecordIgnored(t *testing.T) {
	c, settlement, backend := newTestController()
	writeRecord(t, backend, "user-1", "ORD-OLD", testNow.Add(-48*time.Hour))

	result := c.Verify(context.Background(), "user-1", nil)

	assert.ErrorIs(t, result.Err, domain.ErrMissingOrder)
	assert.Equal(t, 0, settlement.StatusCallCount())
}

func TestVerify_SuccessKeepsOtherOrdersRecord(t *testing.T) {
	c, settlement, backend := newTestController()
	writeRecord(t, backend, "user-1", "ORD-NEWER", testNow)
	settlement.SetStatusResponse(mocks.Paid(nil), nil)

	result := c.Verify(context.Background(), "user-1", url.Values{ParamOutTradeNo: {"ORD-OLDER"}})
	require.Equal(t, StateSuccess, result.State)
	assert.Empty(t, result.PlanID)

	rec, err := backend.ForUser("user-1").Read(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ORD-NEWER", rec.OrderNo)
}

func TestVerify_ErrorOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		outcome     *domain.ReconciliationOutcome
		err         error
		wantErr     error
		retryable   bool
		keepsRecord bool
	}{
		{
			name:        "transport error",
			err:         domain.ErrTransport,
			wantErr:     domain.ErrTransport,
			retryable:   true,
			keepsRecord: true,
		},
		{
			name:        "not yet settled",
			outcome:     mocks.Pending(),
			wantErr:     domain.ErrPaymentPending,
			retryable:   true,
			keepsRecord: true,
		},
		{
			name:    "declined",
			outcome: mocks.Declined("insufficient funds"),
			wantErr: domain.ErrProcessorDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, settlement, backend := newTestController()
			writeRecord(t, backend, "user-1", "ORD-1", testNow)
			settlement.SetStatusResponse(tt.outcome, tt.err)

			result := c.Verify(context.Background(), "user-1", url.Values{ParamOutTradeNo: {"ORD-1"}})

			assert.Equal(t, StateError, result.State)
			assert.ErrorIs(t, result.Err, tt.wantErr)
			assert.Equal(t, tt.retryable, result.Retryable())
			assert.Equal(t, 0, settlement.SubscriptionCallCount())

			rec, err := backend.ForUser("user-1").Read(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.keepsRecord, rec != nil)
		})
	}
}

func TestVerify_RetryRerunsSameCheck(t *testing.T) {
	c, settlement, _ := newTestController()
	settlement.QueueStatus(nil, domain.ErrTransport)
	settlement.SetStatusResponse(mocks.Paid(nil), nil)
	params := url.Values{ParamOutTradeNo: {"ORD-1"}}

	first := c.Verify(context.Background(), "user-1", params)
	assert.Equal(t, StateError, first.State)
	require.True(t, first.Retryable())

	second := c.Verify(context.Background(), "user-1", params)
	assert.Equal(t, StateSuccess, second.State)
	_, _, initiate, status, _ := settlement.Counts()
	assert.Equal(t, 0, initiate, "retry never creates a new order")
	assert.Equal(t, 2, status)
}

func TestVerify_SubscriptionRefreshFailureUsesOutcome(t *testing.T) {
	c, settlement, _ := newTestController()
	settlement.SetStatusResponse(mocks.Paid(activeSub()), nil)
	settlement.SetSubscription(nil, domain.ErrTransport)

	result := c.Verify(context.Background(), "user-1", url.Values{ParamOrderNo: {"ORD-1"}})

	assert.Equal(t, StateSuccess, result.State)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, "month", result.Subscription.PlanID)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "verifying", StateVerifying.String())
	assert.Equal(t, "success", StateSuccess.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(9).String())
}
