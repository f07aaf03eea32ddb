package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/subscription-checkout/internal/domain"
)

// StatusReply is one scripted QueryPaymentStatus answer
type StatusReply struct {
	Outcome *domain.ReconciliationOutcome
	Err     error
}

// MockSettlementClient is a mock implementation of SettlementClient for testing.
// Status replies are consumed from a queue; once empty the default reply repeats.
type MockSettlementClient struct {
	mu sync.Mutex

	// Responses to return
	plans              []domain.SubscriptionPlan
	plansError         error
	subscription       *domain.UserSubscription
	subscriptionError  error
	initiateResponse   *domain.PaymentInitiationResult
	initiateError      error
	statusQueue        []StatusReply
	statusDefault      StatusReply
	cancelError        error
	onSubscriptionCall func()
	onInitiate         func(domain.PurchaseIntent) (*domain.PaymentInitiationResult, error)

	// Call tracking
	GetPlansCalls        int
	GetSubscriptionCalls int
	InitiateCalls        int
	StatusCalls          int
	CancelCalls          int

	// Last request received
	LastIntent       domain.PurchaseIntent
	LastStatusOrder  string
	LastCancelReason string
}

// NewMockSettlementClient creates a mock whose status queries report pending
func NewMockSettlementClient() *MockSettlementClient {
	return &MockSettlementClient{
		statusDefault: StatusReply{Outcome: Pending()},
	}
}

// Paid returns a settled outcome
func Paid(sub *domain.UserSubscription) *domain.ReconciliationOutcome {
	return &domain.ReconciliationOutcome{Success: true, Status: domain.SettlementStatusPaid, Subscription: sub}
}

// Pending returns a not-yet-settled outcome
func Pending() *domain.ReconciliationOutcome {
	return &domain.ReconciliationOutcome{Status: domain.SettlementStatusPending}
}

// Declined returns a definitive failure
func Declined(msg string) *domain.ReconciliationOutcome {
	return &domain.ReconciliationOutcome{Status: domain.SettlementStatusFailed, ErrorMessage: &msg}
}

// SetPlans sets the catalog to return from GetPlans
func (m *MockSettlementClient) SetPlans(plans []domain.SubscriptionPlan, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = plans
	m.plansError = err
}

// SetSubscription sets the response to return from GetSubscription
func (m *MockSettlementClient) SetSubscription(sub *domain.UserSubscription, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscription = sub
	m.subscriptionError = err
}

// OnSubscriptionCall registers a hook run on every GetSubscription call
func (m *MockSettlementClient) OnSubscriptionCall(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSubscriptionCall = fn
}

// OnInitiate answers InitiatePurchase with fn instead of the fixed response.
// fn runs without the mock's lock held, so it may block.
func (m *MockSettlementClient) OnInitiate(fn func(domain.PurchaseIntent) (*domain.PaymentInitiationResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInitiate = fn
}

// SetInitiateResponse sets the response to return from InitiatePurchase
func (m *MockSettlementClient) SetInitiateResponse(result *domain.PaymentInitiationResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiateResponse = result
	m.initiateError = err
}

// QueueStatus appends one scripted status reply
func (m *MockSettlementClient) QueueStatus(outcome *domain.ReconciliationOutcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusQueue = append(m.statusQueue, StatusReply{Outcome: outcome, Err: err})
}

// SetStatusResponse sets the reply used once the queue is empty
func (m *MockSettlementClient) SetStatusResponse(outcome *domain.ReconciliationOutcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusDefault = StatusReply{Outcome: outcome, Err: err}
}

// SetCancelError sets the error to return from CancelSubscription
func (m *MockSettlementClient) SetCancelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelError = err
}

// GetPlans implements SettlementClient
func (m *MockSettlementClient) GetPlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetPlansCalls++
	return m.plans, m.plansError
}

// GetSubscription implements SettlementClient
func (m *MockSettlementClient) GetSubscription(ctx context.Context, userID string) (*domain.UserSubscription, error) {
	m.mu.Lock()
	m.GetSubscriptionCalls++
	hook := m.onSubscriptionCall
	sub, err := m.subscription, m.subscriptionError
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if sub != nil {
		copied := *sub
		return &copied, err
	}
	return nil, err
}

// InitiatePurchase implements SettlementClient
func (m *MockSettlementClient) InitiatePurchase(ctx context.Context, intent domain.PurchaseIntent) (*domain.PaymentInitiationResult, error) {
	m.mu.Lock()
	m.InitiateCalls++
	m.LastIntent = intent
	hook := m.onInitiate
	m.mu.Unlock()
	if hook != nil {
		return hook(intent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initiateError != nil {
		return nil, m.initiateError
	}
	if m.initiateResponse == nil {
		return nil, domain.ErrTransport
	}
	copied := *m.initiateResponse
	return &copied, nil
}

// QueryPaymentStatus implements SettlementClient
func (m *MockSettlementClient) QueryPaymentStatus(ctx context.Context, userID, orderNo string) (*domain.ReconciliationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	m.LastStatusOrder = orderNo

	reply := m.statusDefault
	if len(m.statusQueue) > 0 {
		reply = m.statusQueue[0]
		m.statusQueue = m.statusQueue[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	copied := *reply.Outcome
	return &copied, nil
}

// CancelSubscription implements SettlementClient
func (m *MockSettlementClient) CancelSubscription(ctx context.Context, userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	m.LastCancelReason = reason
	return m.cancelError
}

// Counts returns call counts under the lock, for use from assert.Eventually
func (m *MockSettlementClient) Counts() (plans, subscription, initiate, status, cancel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetPlansCalls, m.GetSubscriptionCalls, m.InitiateCalls, m.StatusCalls, m.CancelCalls
}

// StatusCallCount returns how many status queries were made
func (m *MockSettlementClient) StatusCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatusCalls
}

// SubscriptionCallCount returns how many subscription fetches were made
func (m *MockSettlementClient) SubscriptionCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetSubscriptionCalls
}
