// Package surface implements ports.ExternalPaymentSurface for the two hosts:
// a server-hosted checkout window and a DevTools-driven browser tab.
package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/middleware"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
)

// ErrUnknownSurface is returned for IDs that were never opened or have been swept
var ErrUnknownSurface = errors.New("unknown payment surface")

// HostedConfig tunes liveness detection for hosted checkout windows
type HostedConfig struct {
	// PathPrefix is where the window page is served, e.g. "/checkout/"
	PathPrefix string
	// LoadGrace is how long a window may take to load before it counts as closed
	LoadGrace time.Duration
	// HeartbeatGrace is how long a loaded window may go silent before it counts as closed
	HeartbeatGrace time.Duration
	// OpenRate and OpenBurst limit window opens per user (popup blocker analogue)
	OpenRate  float64
	OpenBurst int
	// Retention is how long closed windows are kept for late beacons
	Retention time.Duration
}

// DefaultHostedConfig returns production defaults
func DefaultHostedConfig() HostedConfig {
	return HostedConfig{
		PathPrefix:     "/checkout/",
		LoadGrace:      30 * time.Second,
		HeartbeatGrace: 6 * time.Second,
		OpenRate:       0.2,
		OpenBurst:      3,
		Retention:      15 * time.Minute,
	}
}

type window struct {
	openedAt      time.Time
	loadedAt      time.Time
	lastHeartbeat time.Time
	closedAt      time.Time
	id            string
	userID        string
	document      string
	closedBy      string
}

// Hosted serves processor documents from this process and tracks each
// window's liveness from the beacons its page sends back.
type Hosted struct {
	mu        sync.Mutex
	windows   map[string]*window
	redirects map[string]string
	limiter   *middleware.RateLimiter
	config    HostedConfig
	logger    ports.Logger
	now       func() time.Time
}

// NewHosted creates a hosted surface registry
func NewHosted(cfg HostedConfig, logger ports.Logger) *Hosted {
	return &Hosted{
		windows:   make(map[string]*window),
		redirects: make(map[string]string),
		limiter:   middleware.NewRateLimiter(cfg.OpenRate, cfg.OpenBurst).WithName("surface_open"),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Shutdown stops background cleanup
func (h *Hosted) Shutdown() {
	h.limiter.Shutdown()
}

// ForUser returns the surface bound to one user's session
func (h *Hosted) ForUser(userID string) ports.ExternalPaymentSurface {
	return &hostedView{hosted: h, userID: userID}
}

// Load returns the document for a window owned by userID and marks it loaded
func (h *Hosted) Load(id, userID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[id]
	if !ok || w.userID != userID {
		return "", ErrUnknownSurface
	}
	if !w.closedAt.IsZero() {
		return "", domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment window already closed")
	}

	now := h.now()
	if w.loadedAt.IsZero() {
		w.loadedAt = now
	}
	w.lastHeartbeat = now
	return w.document, nil
}

// Heartbeat records that the window page is still open
func (h *Hosted) Heartbeat(id, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[id]
	if !ok || w.userID != userID {
		return ErrUnknownSurface
	}
	now := h.now()
	if w.loadedAt.IsZero() {
		w.loadedAt = now
	}
	w.lastHeartbeat = now
	return nil
}

// Dismiss records the page's pagehide beacon
func (h *Hosted) Dismiss(id, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[id]
	if !ok || w.userID != userID {
		return ErrUnknownSurface
	}
	h.closeLocked(w, "user")
	return nil
}

// TakeRedirect returns and forgets the navigation recorded for userID
func (h *Hosted) TakeRedirect(userID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, ok := h.redirects[userID]
	delete(h.redirects, userID)
	return target, ok
}

// Sweep forgets windows closed for longer than the retention period
func (h *Hosted) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sweepLocked(h.now())
}

func (h *Hosted) sweepLocked(now time.Time) int {
	removed := 0
	for id, w := range h.windows {
		if h.isClosedLocked(w, now) {
			if w.closedAt.IsZero() {
				h.closeLocked(w, "silent")
			}
			if now.Sub(w.closedAt) > h.config.Retention {
				delete(h.windows, id)
				removed++
			}
		}
	}
	return removed
}

func (h *Hosted) closeLocked(w *window, by string) {
	if !w.closedAt.IsZero() {
		return
	}
	w.closedAt = h.now()
	w.closedBy = by
	w.document = ""
	if h.logger != nil {
		h.logger.Info("payment window closed",
			ports.String("surface_id", w.id),
			ports.String("user_id", w.userID),
			ports.String("closed_by", by),
		)
	}
}

func (h *Hosted) isClosedLocked(w *window, now time.Time) bool {
	switch {
	case !w.closedAt.IsZero():
		return true
	case w.loadedAt.IsZero():
		return now.Sub(w.openedAt) > h.config.LoadGrace
	default:
		return now.Sub(w.lastHeartbeat) > h.config.HeartbeatGrace
	}
}

type hostedView struct {
	hosted *Hosted
	userID string
}

func (v *hostedView) OpenWithDocument(ctx context.Context, document string) (*ports.SurfaceHandle, error) {
	h := v.hosted
	if !h.limiter.Allow(v.userID) {
		observability.RecordSurfaceOpened(string(domain.SurfaceKindDocument), "blocked")
		if h.logger != nil {
			h.logger.Warn("payment window blocked", ports.String("user_id", v.userID))
		}
		return nil, domain.ErrSurfaceBlocked
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.sweepLocked(now)

	w := &window{
		id:       uuid.New().String(),
		userID:   v.userID,
		document: document,
		openedAt: now,
	}
	h.windows[w.id] = w
	observability.RecordSurfaceOpened(string(domain.SurfaceKindDocument), "opened")

	return &ports.SurfaceHandle{
		ID:       w.id,
		URL:      h.config.PathPrefix + w.id,
		OpenedAt: now,
	}, nil
}

func (v *hostedView) OpenWithRedirect(ctx context.Context, target string) error {
	if target == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "redirect target is empty")
	}
	v.hosted.mu.Lock()
	v.hosted.redirects[v.userID] = target
	v.hosted.mu.Unlock()
	observability.RecordSurfaceOpened(string(domain.SurfaceKindRedirect), "opened")
	return nil
}

func (v *hostedView) IsClosed(ctx context.Context, handle *ports.SurfaceHandle) bool {
	if handle == nil {
		return true
	}
	h := v.hosted
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[handle.ID]
	if !ok || w.userID != v.userID {
		return true
	}
	return h.isClosedLocked(w, h.now())
}

func (v *hostedView) Close(ctx context.Context, handle *ports.SurfaceHandle) error {
	if handle == nil {
		return nil
	}
	h := v.hosted
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[handle.ID]
	if !ok || w.userID != v.userID {
		return nil
	}
	h.closeLocked(w, "engine")
	return nil
}
