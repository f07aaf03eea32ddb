package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/kevin07696/subscription-checkout/internal/auth"
)

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID reuses the caller's X-Request-ID or generates one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(auth.WithRequestID(r.Context(), requestID)))
	})
}
