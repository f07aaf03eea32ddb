// Package returnpage verifies a payment once the user is navigated back into
// the application, when no reconciliation watch survived the redirect.
package returnpage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
)

// Order identifier parameters, processor dependent
const (
	ParamOutTradeNo = "out_trade_no"
	ParamOrderNo    = "order_no"
)

// State is the page state
type State int

const (
	StateVerifying State = iota
	StateSuccess
	StateError
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds return page settings
type Config struct {
	// Stored records older than this are not used as a fallback
	MaxRecordAge time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{MaxRecordAge: 24 * time.Hour}
}

// Result is the terminal page state
type Result struct {
	Subscription *domain.UserSubscription
	Outcome      *domain.ReconciliationOutcome
	Err          error
	OrderNo      string
	PlanID       string
	// Source is "params" or "store"
	Source string
	State  State
}

// Retryable reports whether re-running the same verification may succeed
func (r Result) Retryable() bool {
	return r.State == StateError && domain.IsRetryable(r.Err)
}

// Controller runs the one-shot verification. It never polls.
type Controller struct {
	settlement ports.SettlementClient
	stores     ports.PendingStoreFactory
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
	now        func() time.Time
	config     Config
}

// NewController creates a return page controller
func NewController(settlement ports.SettlementClient, stores ports.PendingStoreFactory, cfg Config, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Controller {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Controller{
		settlement: settlement,
		stores:     stores,
		timeouts:   timeouts,
		logger:     logger,
		now:        time.Now,
		config:     cfg,
	}
}

// OrderFromParams returns the first non-empty recognised order parameter
func OrderFromParams(params url.Values) string {
	for _, key := range []string{ParamOutTradeNo, ParamOrderNo} {
		if v := strings.TrimSpace(params.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Verify resolves the order for userID and checks it once with the backend.
// An empty userID means the request carried no session.
func (c *Controller) Verify(ctx context.Context, userID string, params url.Values) Result {
	result := c.verify(ctx, userID, params)
	observability.RecordReturnPageVerification(resultLabel(result))

	fields := []ports.Field{
		ports.String("user_id", userID),
		ports.String("order_no", result.OrderNo),
		ports.String("source", result.Source),
		ports.String("state", result.State.String()),
	}
	if result.Err != nil {
		c.logWarn("return page verification failed", append(fields, ports.Err(result.Err))...)
	} else {
		c.logInfo("return page verification succeeded", fields...)
	}
	return result
}

func (c *Controller) verify(ctx context.Context, userID string, params url.Values) Result {
	result := Result{State: StateVerifying, OrderNo: OrderFromParams(params)}
	if result.OrderNo != "" {
		result.Source = "params"
	}

	if userID == "" {
		return failed(result, domain.ErrNotAuthenticated)
	}

	store := c.stores.ForUser(userID)
	record, err := pendingstore.ReadFresh(ctx, store, c.config.MaxRecordAge, c.now())
	if err != nil {
		// The navigation parameter alone is enough to verify
		c.logWarn("failed to read pending payment", ports.String("user_id", userID), ports.Err(err))
		record = nil
	}
	if result.OrderNo == "" && record != nil {
		result.OrderNo = record.OrderNo
		result.Source = "store"
	}
	if result.OrderNo == "" {
		return failed(result, domain.ErrMissingOrder)
	}
	if record != nil && record.OrderNo == result.OrderNo {
		result.PlanID = record.PlanID
	}

	sctx, cancel := c.timeouts.SettlementContext(ctx)
	defer cancel()

	outcome, err := c.settlement.QueryPaymentStatus(sctx, userID, result.OrderNo)
	if err != nil {
		return failed(result, err)
	}
	result.Outcome = outcome

	switch {
	case outcome.IsPaid():
	case outcome.IsFailed():
		msg := outcome.Message()
		if msg == "" {
			msg = "the payment was declined"
		}
		c.clear(ctx, store, result.OrderNo)
		return failed(result, domain.NewDomainError(domain.ErrorCodeProcessorDeclined, msg).WithDetail("order_no", result.OrderNo))
	default:
		return failed(result, domain.NewDomainError(domain.ErrorCodePaymentPending, "payment not yet settled").WithDetail("order_no", result.OrderNo))
	}

	sub, err := c.settlement.GetSubscription(sctx, userID)
	if err != nil {
		c.logWarn("subscription refresh after payment failed", ports.String("user_id", userID), ports.Err(err))
		sub = outcome.Subscription
	}
	result.Subscription = sub

	c.clear(ctx, store, result.OrderNo)
	result.State = StateSuccess
	return result
}

func (c *Controller) clear(ctx context.Context, store ports.PendingPaymentStore, orderNo string) {
	if _, err := pendingstore.ClearIfOrder(ctx, store, orderNo); err != nil {
		c.logWarn("failed to clear pending payment", ports.String("order_no", orderNo), ports.Err(err))
	}
}

func failed(r Result, err error) Result {
	r.State = StateError
	r.Err = err
	return r
}

func resultLabel(r Result) string {
	if r.State == StateSuccess {
		return "success"
	}
	switch domain.GetErrorCode(r.Err) {
	case domain.ErrorCodeNotAuthenticated:
		return "not_authenticated"
	case domain.ErrorCodeMissingOrder:
		return "missing_order"
	case domain.ErrorCodeProcessorDeclined:
		return "declined"
	case domain.ErrorCodePaymentPending:
		return "pending"
	default:
		return "transport_error"
	}
}

func (c *Controller) logInfo(msg string, fields ...ports.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) logWarn(msg string, fields ...ports.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}
