package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAuthenticator struct {
	info *auth.AuthInfo
}

func (s stubAuthenticator) Resolve(r *http.Request) (*auth.AuthInfo, bool) {
	if s.info == nil {
		return nil, false
	}
	copied := *s.info
	return &copied, true
}

func TestSecurityHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name        string
		headers     *SecurityHeaders
		wantCSP     []string
		wantHSTS    bool
		notWantsCSP []string
	}{
		{
			name:     "api production",
			headers:  NewSecurityHeaders(false),
			wantCSP:  []string{"default-src 'none'", "form-action 'none'"},
			wantHSTS: true,
		},
		{
			name:     "api development",
			headers:  NewSecurityHeaders(true),
			wantCSP:  []string{"default-src 'self'", "form-action 'self'"},
			wantHSTS: false,
		},
		{
			name:     "hosted page allows processor forms",
			headers:  NewPageSecurityHeaders(false, "https://pay.example.com", "https://paypal.example.com"),
			wantCSP:  []string{"script-src 'self' 'unsafe-inline'", "form-action 'self' https://pay.example.com https://paypal.example.com"},
			wantHSTS: true,
		},
		{
			name:        "return page posts to self only",
			headers:     NewPageSecurityHeaders(true),
			wantCSP:     []string{"form-action 'self'"},
			notWantsCSP: []string{"https://"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.headers.Middleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			csp := rec.Header().Get("Content-Security-Policy")
			for _, want := range tt.wantCSP {
				assert.Contains(t, csp, want)
			}
			for _, unwanted := range tt.notWantsCSP {
				assert.NotContains(t, csp, unwanted)
			}
			assert.Contains(t, csp, "frame-ancestors 'none'")
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantHSTS, rec.Header().Get("Strict-Transport-Security") != "")
		})
	}
}

func TestSessionAuth_Require(t *testing.T) {
	var seen *auth.AuthInfo
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetAuthInfo(r.Context())
	})

	t.Run("no session returns 401 json", func(t *testing.T) {
		seen = nil
		sa := NewSessionAuth(stubAuthenticator{}, zap.NewNop())
		rec := httptest.NewRecorder()
		sa.Require(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/state", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, seen)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "NOT_AUTHENTICATED", body["code"])
		assert.NotEmpty(t, body["message"])
	})

	t.Run("session puts user in context", func(t *testing.T) {
		seen = nil
		sa := NewSessionAuth(stubAuthenticator{info: &auth.AuthInfo{Type: auth.AuthTypeSession, UserID: "user-1"}}, zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/state", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rec := httptest.NewRecorder()

		RequestID(sa.Require(handler)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user-1", seen.UserID)
		assert.Equal(t, auth.AuthTypeSession, seen.Type)
		assert.Equal(t, "203.0.113.9", seen.ClientIP)
		assert.Equal(t, rec.Header().Get(RequestIDHeader), seen.RequestID)
	})
}

func TestSessionAuth_Optional(t *testing.T) {
	var userID string
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		userID = auth.UserID(r.Context())
	})

	sa := NewSessionAuth(stubAuthenticator{}, zap.NewNop())
	rec := httptest.NewRecorder()
	sa.Optional(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/result", nil))

	assert.True(t, called)
	assert.Empty(t, userID)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	var fromCtx string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = auth.GetRequestID(r.Context())
	}))

	t.Run("generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, fromCtx, 36)
		assert.Equal(t, fromCtx, rec.Header().Get(RequestIDHeader))
	})

	t.Run("caller value reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-abc", fromCtx)
	})

	t.Run("oversized value replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Len(t, fromCtx, 36)
	})
}
