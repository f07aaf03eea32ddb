// Package payment serves the page the processor navigates the user back to.
package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/services/returnpage"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"go.uber.org/zap"
)

const (
	resultPath = "/payment/result"
	retryPath  = "/payment/result/retry"

	maxFormBytes = 8 << 10
)

// Verifier checks one order with the settlement backend
type Verifier interface {
	Verify(ctx context.Context, userID string, params url.Values) returnpage.Result
}

// ResultHandler renders the payment result page
type ResultHandler struct {
	verifier    Verifier
	checkoutURL string
	timeouts    *resilience.TimeoutConfig
	logger      *zap.Logger
}

// NewResultHandler creates the return page handler. checkoutURL is where "Back to checkout" points.
func NewResultHandler(verifier Verifier, checkoutURL string, timeouts *resilience.TimeoutConfig, logger *zap.Logger) *ResultHandler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if checkoutURL == "" {
		checkoutURL = "/"
	}
	return &ResultHandler{
		verifier:    verifier,
		checkoutURL: checkoutURL,
		timeouts:    timeouts,
		logger:      logger,
	}
}

// Register adds the result routes to mux
func (h *ResultHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET " + resultPath, h.Result},
		{"POST " + retryPath, h.Retry},
	}
	for _, route := range routes {
		var handler http.Handler = route.handler
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(route.pattern, observability.HTTPMiddleware(route.pattern, handler))
	}
}

// Result handles GET /payment/result?out_trade_no=...|order_no=...
func (h *ResultHandler) Result(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, r.URL.Query())
}

// Retry handles POST /payment/result/retry and re-runs the same verification
func (h *ResultHandler) Retry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Failed to parse retry form", zap.Error(err))
		h.render(w, returnpage.Result{
			State: returnpage.StateError,
			Err:   domain.WrapError(domain.ErrorCodeValidationFailed, "invalid form", err),
		})
		return
	}
	h.verify(w, r, r.PostForm)
}

func (h *ResultHandler) verify(w http.ResponseWriter, r *http.Request, params url.Values) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	result := h.verifier.Verify(ctx, auth.UserID(r.Context()), params)
	h.render(w, result)
}

func statusForResult(result returnpage.Result) int {
	switch {
	case result.State == returnpage.StateSuccess:
		return http.StatusOK
	case errors.Is(result.Err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(result.Err, domain.ErrMissingOrder),
		errors.Is(result.Err, domain.ErrValidationFailed):
		return http.StatusBadRequest
	default:
		// The processor navigated here; declines and pending payments are a normal page
		return http.StatusOK
	}
}

func (h *ResultHandler) render(w http.ResponseWriter, result returnpage.Result) {
	data := map[string]interface{}{
		"State":        result.State.String(),
		"Success":      result.State == returnpage.StateSuccess,
		"Message":      domain.UserMessage(result.Err),
		"Detail":       declineDetail(result),
		"OrderNo":      result.OrderNo,
		"PlanID":       result.PlanID,
		"Subscription": result.Subscription,
		"Retryable":    result.Retryable() && result.OrderNo != "",
		"RetryPath":    retryPath,
		"CheckoutURL":  h.checkoutURL,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusForResult(result))

	if err := resultPage.Execute(w, data); err != nil {
		h.logger.Error("Failed to render payment result page",
			zap.String("order_no", result.OrderNo),
			zap.Error(err),
		)
	}
}

// declineDetail returns the processor's own message for a declined payment
func declineDetail(result returnpage.Result) string {
	if !errors.Is(result.Err, domain.ErrProcessorDeclined) || result.Outcome == nil {
		return ""
	}
	return result.Outcome.Message()
}
