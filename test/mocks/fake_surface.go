package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// FakeSurface is an in-memory ExternalPaymentSurface. Tests close windows
// with SimulateUserClose and refuse opens with SetBlocked.
type FakeSurface struct {
	mu        sync.Mutex
	closed    map[string]bool
	blocked   bool
	nextID    int
	Documents []string
	Redirects []string
	Closes    []string
}

// NewFakeSurface creates a surface that accepts every open
func NewFakeSurface() *FakeSurface {
	return &FakeSurface{closed: make(map[string]bool)}
}

// SetBlocked makes OpenWithDocument refuse like a popup blocker
func (f *FakeSurface) SetBlocked(blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = blocked
}

// SimulateUserClose marks the window as closed by the user
func (f *FakeSurface) SimulateUserClose(handle *ports.SurfaceHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[handle.ID] = true
}

// OpenWithDocument implements ExternalPaymentSurface
func (f *FakeSurface) OpenWithDocument(ctx context.Context, document string) (*ports.SurfaceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked {
		return nil, domain.ErrSurfaceBlocked
	}
	f.nextID++
	id := fmt.Sprintf("surface-%d", f.nextID)
	f.closed[id] = false
	f.Documents = append(f.Documents, document)
	return &ports.SurfaceHandle{ID: id, URL: "/checkout/" + id, OpenedAt: time.Now()}, nil
}

// OpenWithRedirect implements ExternalPaymentSurface
func (f *FakeSurface) OpenWithRedirect(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Redirects = append(f.Redirects, target)
	return nil
}

// IsClosed implements ExternalPaymentSurface
func (f *FakeSurface) IsClosed(ctx context.Context, handle *ports.SurfaceHandle) bool {
	if handle == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	closed, ok := f.closed[handle.ID]
	return !ok || closed
}

// Close implements ExternalPaymentSurface
func (f *FakeSurface) Close(ctx context.Context, handle *ports.SurfaceHandle) error {
	if handle == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[handle.ID] = true
	f.Closes = append(f.Closes, handle.ID)
	return nil
}

// OpenCount returns how many windows were opened
func (f *FakeSurface) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Documents)
}

// CloseCount returns how many engine-initiated closes happened
func (f *FakeSurface) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Closes)
}

// RedirectCount returns how many redirects were requested
func (f *FakeSurface) RedirectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Redirects)
}
