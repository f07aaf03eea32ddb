// Package checkout exposes the purchase orchestrator intents as a JSON API
// for the presentation layer.
package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/services/purchase"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Sessions hands out the orchestrator of one user
type Sessions interface {
	Get(userID string) *purchase.Orchestrator
}

// RedirectTaker returns the navigation a redirect processor asked for
type RedirectTaker interface {
	TakeRedirect(userID string) (string, bool)
}

// Handler serves /api/v1/checkout and /api/v1/subscription
type Handler struct {
	sessions  Sessions
	redirects RedirectTaker
	timeouts  *resilience.TimeoutConfig
	logger    *zap.Logger
}

// NewHandler creates the checkout API handler. redirects may be nil.
func NewHandler(sessions Sessions, redirects RedirectTaker, timeouts *resilience.TimeoutConfig, logger *zap.Logger) *Handler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Handler{
		sessions:  sessions,
		redirects: redirects,
		timeouts:  timeouts,
		logger:    logger,
	}
}

// StateResponse is returned by every successful call
type StateResponse struct {
	purchase.Snapshot
	ActivePlan *domain.SubscriptionPlan `json:"activePlan,omitempty"`
	// Redirect is set once, right after a redirect processor was chosen
	Redirect string `json:"redirect,omitempty"`
}

// PlanRequest selects or requests a plan
type PlanRequest struct {
	PlanID string `json:"planId"`
}

// ChooseRequest picks the processor for a plan
type ChooseRequest struct {
	PlanID    string `json:"planId"`
	Processor string `json:"processor"`
}

// CancelRequest cancels the active subscription
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Register adds the API routes to mux. wrap is applied to every route, inside the metrics middleware.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /api/v1/checkout/state", h.State},
		{"POST /api/v1/checkout/refresh", h.Refresh},
		{"POST /api/v1/checkout/select", h.Select},
		{"POST /api/v1/checkout/request", h.Request},
		{"POST /api/v1/checkout/choose", h.Choose},
		{"POST /api/v1/checkout/retry-surface", h.RetrySurface},
		{"POST /api/v1/checkout/dismiss", h.Dismiss},
		{"POST /api/v1/subscription/cancel", h.CancelSubscription},
	}
	for _, route := range routes {
		var handler http.Handler = route.handler
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(route.pattern, observability.HTTPMiddleware(route.pattern, handler))
	}
}

// State handles GET /api/v1/checkout/state
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	h.respondState(w, o, false)
}

// Refresh handles POST /api/v1/checkout/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "refresh", o.Refresh(ctx), false)
}

// Select handles POST /api/v1/checkout/select
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "select", o.SelectPlan(ctx, req.PlanID), false)
}

// Request handles POST /api/v1/checkout/request and opens the processor prompt
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "request", o.RequestPurchase(ctx, req.PlanID), false)
}

// Choose handles POST /api/v1/checkout/choose and starts a purchase attempt
func (h *Handler) Choose(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	var req ChooseRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	if req.PlanID == "" || req.Processor == "" {
		respondError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "planId and processor are required"), nil)
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "choose", o.ChoosePaymentMethod(ctx, req.PlanID, req.Processor), true)
}

// RetrySurface handles POST /api/v1/checkout/retry-surface
func (h *Handler) RetrySurface(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "retry-surface", o.RetrySurface(ctx), false)
}

// Dismiss handles POST /api/v1/checkout/dismiss
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	o.DismissPrompt()
	h.respondState(w, o, false)
}

// CancelSubscription handles POST /api/v1/subscription/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.finish(w, o, "cancel-subscription", o.CancelSubscription(ctx, req.Reason), false)
}

func (h *Handler) orchestrator(w http.ResponseWriter, r *http.Request) (*purchase.Orchestrator, bool) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		respondError(w, domain.ErrNotAuthenticated, nil)
		return nil, false
	}
	return h.sessions.Get(userID), true
}

func (h *Handler) finish(w http.ResponseWriter, o *purchase.Orchestrator, intent string, err error, takeRedirect bool) {
	if err != nil {
		level := h.logger.Info
		if statusForError(err) >= http.StatusInternalServerError {
			level = h.logger.Warn
		}
		level("Checkout intent failed",
			zap.String("intent", intent),
			zap.String("user_id", o.UserID()),
			zap.String("code", string(domain.GetErrorCode(err))),
			zap.Error(err),
		)
		snap := o.Snapshot()
		respondError(w, err, &snap)
		return
	}
	h.respondState(w, o, takeRedirect)
}

func (h *Handler) respondState(w http.ResponseWriter, o *purchase.Orchestrator, takeRedirect bool) {
	snap := o.Snapshot()
	resp := StateResponse{Snapshot: snap, ActivePlan: snap.ActivePlan()}
	if takeRedirect && h.redirects != nil {
		if target, ok := h.redirects.TakeRedirect(o.UserID()); ok {
			resp.Redirect = target
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// decodeBody reads an optional JSON body into dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "invalid request body", err)
	}
	return nil
}
