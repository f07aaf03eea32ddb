// Package hosted serves the payment window page that wraps a processor's
// confirmation document and reports the window's liveness back.
package hosted

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/surface"
	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"go.uber.org/zap"
)

// Windows is the hosted surface registry as seen by its page
type Windows interface {
	Load(id, userID string) (string, error)
	Heartbeat(id, userID string) error
	Dismiss(id, userID string) error
	TakeRedirect(userID string) (string, bool)
}

// Handler serves /checkout/{id} and its beacons
type Handler struct {
	windows    Windows
	pathPrefix string
	heartbeat  time.Duration
	logger     *zap.Logger
}

// NewHandler creates the window page handler. The page beats three times per heartbeatGrace.
func NewHandler(windows Windows, pathPrefix string, heartbeatGrace time.Duration, logger *zap.Logger) *Handler {
	interval := heartbeatGrace / 3
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return &Handler{
		windows:    windows,
		pathPrefix: "/" + strings.Trim(pathPrefix, "/"),
		heartbeat:  interval,
		logger:     logger,
	}
}

// Register adds the window routes to mux
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET " + h.pathPrefix + "/continue", h.Continue},
		{"GET " + h.pathPrefix + "/{id}", h.Window},
		{"POST " + h.pathPrefix + "/{id}/heartbeat", h.Heartbeat},
		{"POST " + h.pathPrefix + "/{id}/closed", h.Closed},
	}
	for _, route := range routes {
		var handler http.Handler = route.handler
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(route.pattern, observability.HTTPMiddleware(route.pattern, handler))
	}
}

// Window handles GET /checkout/{id}
func (h *Handler) Window(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.renderMessage(w, http.StatusUnauthorized, "Please sign in", "Sign in again, then restart the payment from the checkout page.")
		return
	}

	id := r.PathValue("id")
	document, err := h.windows.Load(id, userID)
	if err != nil {
		if errors.Is(err, surface.ErrUnknownSurface) {
			h.renderMessage(w, http.StatusNotFound, "Payment window not found", "This payment window has expired. Return to the checkout page to try again.")
			return
		}
		h.renderMessage(w, http.StatusGone, "Payment window closed", "This payment window was already closed. Return to the checkout page to try again.")
		return
	}

	data := map[string]interface{}{
		"Document":        document,
		"BasePath":        h.pathPrefix + "/" + id,
		"HeartbeatMillis": h.heartbeat.Milliseconds(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := windowPage.Execute(w, data); err != nil {
		h.logger.Error("Failed to render payment window",
			zap.String("surface_id", id),
			zap.Error(err),
		)
	}
}

// Heartbeat handles POST /checkout/{id}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.beacon(w, r, "heartbeat", h.windows.Heartbeat)
}

// Closed handles POST /checkout/{id}/closed, sent from pagehide
func (h *Handler) Closed(w http.ResponseWriter, r *http.Request) {
	h.beacon(w, r, "closed", h.windows.Dismiss)
}

// Continue handles GET /checkout/continue for hosts that cannot read the API response
func (h *Handler) Continue(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.renderMessage(w, http.StatusUnauthorized, "Please sign in", "Sign in again, then restart the payment from the checkout page.")
		return
	}
	target, ok := h.windows.TakeRedirect(userID)
	if !ok {
		h.renderMessage(w, http.StatusNotFound, "Nothing to continue", "There is no payment waiting to continue.")
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) beacon(w http.ResponseWriter, r *http.Request, kind string, record func(id, userID string) error) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	if err := record(id, userID); err != nil {
		h.logger.Debug("Beacon for unknown payment window",
			zap.String("kind", kind),
			zap.String("surface_id", id),
			zap.String("user_id", userID),
		)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) renderMessage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := messagePage.Execute(w, map[string]interface{}{
		"Title":   title,
		"Message": message,
	}); err != nil {
		h.logger.Error("Failed to render message page", zap.Error(err))
	}
}
