package ports

import (
	"context"

	"github.com/kevin07696/subscription-checkout/internal/domain"
)

// SettlementClient is a stateless wrapper around the settlement backend.
// Every call may fail with a TRANSPORT_ERROR DomainError. Calls are never retried
// internally; retry policy belongs to callers.
type SettlementClient interface {
	// GetPlans fetches the plan catalog
	GetPlans(ctx context.Context) ([]domain.SubscriptionPlan, error)

	// GetSubscription fetches the user's subscription, or nil when the backend has none
	GetSubscription(ctx context.Context, userID string) (*domain.UserSubscription, error)

	// InitiatePurchase creates a backend order and returns how to hand the user to the processor
	InitiatePurchase(ctx context.Context, intent domain.PurchaseIntent) (*domain.PaymentInitiationResult, error)

	// QueryPaymentStatus asks the backend whether an order has settled
	QueryPaymentStatus(ctx context.Context, userID, orderNo string) (*domain.ReconciliationOutcome, error)

	// CancelSubscription cancels the user's active subscription; reason may be empty
	CancelSubscription(ctx context.Context, userID, reason string) error
}
