package ports

import (
	"context"
	"time"
)

// SurfaceHandle identifies one opened external payment surface
type SurfaceHandle struct {
	OpenedAt time.Time
	ID       string
	// URL is where the presentation layer should point the new window, if anything
	URL string
}

// ExternalPaymentSurface hands the user to an out-of-process payment flow
// and reports when that flow has been dismissed.
type ExternalPaymentSurface interface {
	// OpenWithDocument renders processor markup in a new top-level browsing context.
	// Returns domain.ErrSurfaceBlocked and a nil handle when the host refuses.
	OpenWithDocument(ctx context.Context, document string) (*SurfaceHandle, error)

	// OpenWithRedirect navigates the current context to target
	OpenWithRedirect(ctx context.Context, target string) error

	IsClosed(ctx context.Context, handle *SurfaceHandle) bool
	Close(ctx context.Context, handle *SurfaceHandle) error
}
