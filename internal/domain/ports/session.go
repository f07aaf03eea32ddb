package ports

import (
	"net/http"
)

// SessionResolver extracts the authenticated user from an incoming request
type SessionResolver interface {
	// UserID returns the user ID, or ok=false when the request carries no valid session
	UserID(r *http.Request) (userID string, ok bool)
}
