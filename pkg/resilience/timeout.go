package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the application's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler (30s)
//	  ↓
//	Orchestrator intent (25s)
//	  ↓
//	Settlement call (10s)
//	  ↓
//	Status query from a watch (4s, below the 5s status-watch interval)
//	  ↓
//	Pending store operation (2s)
//
// Each layer completes before its parent times out.
type TimeoutConfig struct {
	// Handler layer
	HTTPHandler time.Duration

	// Service layer
	Intent time.Duration // One orchestrator intent, which may chain several backend calls

	// External API timeouts (adapters)
	SettlementCall time.Duration // Any single settlement backend request
	StatusQuery    time.Duration // One status query issued by a reconciliation watch
	SurfaceOp      time.Duration // Opening or closing an external payment surface

	// Storage
	StoreOp time.Duration // Pending payment store read/write/clear
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:    30 * time.Second,
		Intent:         25 * time.Second,
		SettlementCall: 10 * time.Second,
		StatusQuery:    4 * time.Second,
		SurfaceOp:      5 * time.Second,
		StoreOp:        2 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:    5 * time.Second,
		Intent:         4 * time.Second,
		SettlementCall: 2 * time.Second,
		StatusQuery:    1 * time.Second,
		SurfaceOp:      1 * time.Second,
		StoreOp:        500 * time.Millisecond,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// IntentContext creates a context with timeout for one orchestrator intent
func (tc *TimeoutConfig) IntentContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Intent)
}

// SettlementContext creates a context for a single settlement backend call
func (tc *TimeoutConfig) SettlementContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.SettlementCall)
}

// StatusQueryContext creates a context for one status query issued by a watch
func (tc *TimeoutConfig) StatusQueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.StatusQuery)
}

// SurfaceContext creates a context for opening or closing a payment surface
func (tc *TimeoutConfig) SurfaceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.SurfaceOp)
}

// StoreContext creates a context for a pending payment store operation
func (tc *TimeoutConfig) StoreContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.StoreOp)
}
