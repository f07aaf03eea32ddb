package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
)

// Config holds settlement backend connection settings
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Breaker        BreakerConfig
}

// DefaultConfig returns defaults for the given backend base URL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Timeout:        10 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Client implements ports.SettlementClient over JSON/HTTP.
// It never retries; callers own retry policy.
type Client struct {
	config     Config
	httpClient ports.HTTPClient
	apiKey     APIKeySource
	breaker    *Breaker
	logger     ports.Logger
}

var _ ports.SettlementClient = (*Client)(nil)

// NewClient creates a settlement client with dependency injection
func NewClient(cfg Config, httpClient ports.HTTPClient, apiKey APIKeySource, logger ports.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	breaker := NewBreaker(cfg.Breaker, func(from, to CircuitState) {
		observability.SetSettlementCircuitState(int(to))
		if logger != nil {
			logger.Warn("settlement circuit breaker state changed",
				ports.String("from", from.String()),
				ports.String("to", to.String()),
			)
		}
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		apiKey:     apiKey,
		breaker:    breaker,
		logger:     logger,
	}
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// GetPlans fetches the plan catalog
func (c *Client) GetPlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	body, _, err := c.do(ctx, "get_plans", http.MethodGet, "/plans", nil, nil)
	if err != nil {
		return nil, err
	}

	plans, err := decodePlans(body)
	if err != nil {
		return nil, malformed("plans", err)
	}
	return plans, nil
}

// GetSubscription fetches the user's current subscription; nil when the user has none
func (c *Client) GetSubscription(ctx context.Context, userID string) (*domain.UserSubscription, error) {
	query := url.Values{"userId": {userID}}
	body, status, err := c.do(ctx, "get_subscription", http.MethodGet, "/subscription", query, nil, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	sub, err := decodeSubscription(body)
	if err != nil {
		return nil, malformed("subscription", err)
	}
	return sub, nil
}

// InitiatePurchase asks the backend to create an order with the chosen processor
func (c *Client) InitiatePurchase(ctx context.Context, intent domain.PurchaseIntent) (*domain.PaymentInitiationResult, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	req := purchaseRequest{
		UserID:    intent.UserID,
		PlanID:    intent.PlanID,
		Processor: string(intent.Processor),
	}
	body, _, err := c.do(ctx, "purchase", http.MethodPost, "/purchase", nil, req)
	if err != nil {
		return nil, err
	}

	result, err := decodeInitiation(body)
	if err != nil {
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, malformed("purchase", err)
	}
	if result.Processor == "" {
		result.Processor = intent.Processor
	}
	return result, nil
}

// QueryPaymentStatus asks the backend whether an order has settled
func (c *Client) QueryPaymentStatus(ctx context.Context, userID, orderNo string) (*domain.ReconciliationOutcome, error) {
	query := url.Values{"userId": {userID}, "orderNo": {orderNo}}
	body, _, err := c.do(ctx, "payment_status", http.MethodGet, "/paymentStatus", query, nil)
	if err != nil {
		return nil, err
	}

	outcome, err := decodeOutcome(body)
	if err != nil {
		return nil, malformed("paymentStatus", err)
	}
	return outcome, nil
}

// CancelSubscription cancels the user's active subscription
func (c *Client) CancelSubscription(ctx context.Context, userID, reason string) error {
	_, _, err := c.do(ctx, "cancel", http.MethodPost, "/cancel", nil, cancelRequest{UserID: userID, Reason: reason})
	return err
}

// do performs one request through the circuit breaker.
// Statuses listed in accept are returned to the caller instead of failing.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, payload interface{}, accept ...int) ([]byte, int, error) {
	start := time.Now()
	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	key, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, 0, domain.WrapError(domain.ErrorCodeTransport, "settlement credentials unavailable", err)
	}

	var (
		body   []byte
		status int
	)
	done, callErr := c.breaker.Allow()
	if callErr == nil {
		body, status, callErr = c.send(ctx, method, endpoint, key, payload)
		done(outcome(ctx, status, callErr))
		if callErr == nil && status >= 500 {
			callErr = &statusError{status: status, body: body}
		}
	}

	elapsed := time.Since(start)
	err = c.classify(ctx, operation, status, body, callErr, accept)

	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(callErr, ErrCircuitOpen) || errors.Is(callErr, ErrTooManyRequests) {
			result = "circuit_open"
		}
	}
	observability.RecordSettlementCall(operation, result, elapsed.Seconds())

	if c.logger != nil {
		if err != nil {
			c.logger.Warn("settlement call failed",
				ports.String("operation", operation),
				ports.Int("status", status),
				ports.Duration("elapsed", elapsed),
				ports.Err(err),
			)
		} else {
			c.logger.Debug("settlement call completed",
				ports.String("operation", operation),
				ports.Int("status", status),
				ports.Duration("elapsed", elapsed),
			)
		}
	}

	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// outcome decides what a finished call says about backend health. A caller
// giving up says nothing; a 4xx means the backend is up.
func outcome(ctx context.Context, status int, err error) Outcome {
	switch {
	case err != nil && ctx.Err() != nil:
		return Ignored
	case err != nil, status >= 500:
		return Failure
	default:
		return Success
	}
}

func (c *Client) send(ctx context.Context, method, endpoint, apiKey string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, httpResp.StatusCode, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey == nil {
		return "", nil
	}
	return c.apiKey.APIKey(ctx)
}

// classify maps the raw call result onto domain errors
func (c *Client) classify(ctx context.Context, operation string, status int, body []byte, callErr error, accept []int) error {
	switch {
	case callErr == nil:
	case errors.Is(callErr, ErrCircuitOpen), errors.Is(callErr, ErrTooManyRequests):
		return domain.WrapError(domain.ErrorCodeTransport, "settlement service temporarily unavailable", callErr).
			WithDetail("operation", operation)
	default:
		var se *statusError
		if errors.As(callErr, &se) {
			return statusFailure(operation, se.status, se.body)
		}
		if ctx.Err() != nil {
			return domain.WrapError(domain.ErrorCodeTransport, "settlement request cancelled or timed out", callErr).
				WithDetail("operation", operation)
		}
		return domain.WrapError(domain.ErrorCodeTransport, "failed to reach settlement service", callErr).
			WithDetail("operation", operation)
	}

	if status >= 200 && status < 300 {
		return nil
	}
	for _, ok := range accept {
		if status == ok {
			return nil
		}
	}
	return statusFailure(operation, status, body)
}

type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("settlement service returned HTTP %d", e.status)
}

func statusFailure(operation string, status int, body []byte) error {
	return domain.NewDomainError(domain.ErrorCodeTransport, fmt.Sprintf("settlement service returned HTTP %d", status)).
		WithDetail("operation", operation).
		WithDetail("status", status).
		WithDetail("body", truncate(string(body), 256))
}

func malformed(what string, err error) error {
	return domain.WrapError(domain.ErrorCodeTransport, "malformed "+what+" response", err)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
