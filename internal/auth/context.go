package auth

import (
	"context"
)

// Context keys for authentication data
type contextKey string

const (
	AuthTypeKey  contextKey = "auth_type"
	UserIDKey    contextKey = "user_id"
	TokenJTIKey  contextKey = "token_jti"
	RequestIDKey contextKey = "request_id"
	ClientIPKey  contextKey = "client_ip"
)

// AuthType represents how the request was authenticated
type AuthType string

const (
	AuthTypeBearer  AuthType = "bearer"
	AuthTypeSession AuthType = "session"
	AuthTypeNone    AuthType = "none"
)

// AuthInfo contains authentication information from the context
type AuthInfo struct {
	Type      AuthType
	UserID    string
	TokenJTI  string
	RequestID string
	ClientIP  string
}

// GetAuthInfo extracts authentication information from the context
func GetAuthInfo(ctx context.Context) *AuthInfo {
	info := &AuthInfo{Type: AuthTypeNone}

	if authType, ok := ctx.Value(AuthTypeKey).(string); ok {
		info.Type = AuthType(authType)
	}
	info.UserID, _ = ctx.Value(UserIDKey).(string)
	info.TokenJTI, _ = ctx.Value(TokenJTIKey).(string)
	info.RequestID, _ = ctx.Value(RequestIDKey).(string)
	info.ClientIP, _ = ctx.Value(ClientIPKey).(string)
	return info
}

// WithAuth adds authentication information to the context
func WithAuth(ctx context.Context, info *AuthInfo) context.Context {
	ctx = context.WithValue(ctx, AuthTypeKey, string(info.Type))

	if info.UserID != "" {
		ctx = context.WithValue(ctx, UserIDKey, info.UserID)
	}
	if info.TokenJTI != "" {
		ctx = context.WithValue(ctx, TokenJTIKey, info.TokenJTI)
	}
	if info.RequestID != "" {
		ctx = context.WithValue(ctx, RequestIDKey, info.RequestID)
	}
	if info.ClientIP != "" {
		ctx = context.WithValue(ctx, ClientIPKey, info.ClientIP)
	}
	return ctx
}

// WithRequestID stores the request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// UserID returns the authenticated user, or "" when there is none
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// IsAuthenticated checks if the context carries a user
func IsAuthenticated(ctx context.Context) bool {
	return UserID(ctx) != ""
}

// GetRequestID safely extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}
