package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	pkgmiddleware "github.com/kevin07696/subscription-checkout/pkg/middleware"
	"go.uber.org/zap"
)

// Authenticator resolves the user behind a request
type Authenticator interface {
	Resolve(r *http.Request) (*auth.AuthInfo, bool)
}

// SessionAuth puts the authenticated user into the request context
type SessionAuth struct {
	resolver Authenticator
	logger   *zap.Logger
}

// NewSessionAuth creates the session middleware
func NewSessionAuth(resolver Authenticator, logger *zap.Logger) *SessionAuth {
	return &SessionAuth{resolver: resolver, logger: logger}
}

// Require rejects requests without a session with a JSON 401
func (sa *SessionAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ok := sa.authenticate(r)
		if !ok {
			sa.logger.Debug("Request without session rejected",
				zap.String("path", r.URL.Path),
				zap.String("request_id", auth.GetRequestID(r.Context())),
			)
			writeUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the user when there is one and lets the handler decide otherwise.
// The return page uses it so it can render its own signed-out state.
func (sa *SessionAuth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, ok := sa.authenticate(r); ok {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (sa *SessionAuth) authenticate(r *http.Request) (context.Context, bool) {
	info, ok := sa.resolver.Resolve(r)
	if !ok || info == nil || info.UserID == "" {
		return nil, false
	}
	info.RequestID = auth.GetRequestID(r.Context())
	info.ClientIP = pkgmiddleware.ClientIP(r)
	return auth.WithAuth(r.Context(), info), true
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(domain.ErrorCodeNotAuthenticated),
		"message": domain.UserMessage(domain.ErrNotAuthenticated),
	})
}
