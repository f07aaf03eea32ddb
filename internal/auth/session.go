package auth

import (
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
)

const sessionUserKey = "user_id"

// SessionConfig configures the cookie session
type SessionConfig struct {
	CookieName string
	MaxAge     int
	Secure     bool
	// PreviousKeys still validate cookies issued before a key rotation
	PreviousKeys [][]byte
}

// SessionResolver authenticates requests from a bearer token or a cookie session.
// The bearer token wins when both are present.
type SessionResolver struct {
	tokens *TokenManager
	store  sessions.Store
	name   string
}

// NewSessionResolver creates a resolver. Cookies are signed with signingKey.
func NewSessionResolver(tokens *TokenManager, signingKey []byte, cfg SessionConfig) *SessionResolver {
	// gorilla takes hash/block key pairs; cookies are signed, not encrypted
	pairs := [][]byte{signingKey, nil}
	for _, k := range cfg.PreviousKeys {
		pairs = append(pairs, k, nil)
	}
	store := sessions.NewCookieStore(pairs...)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		// Lax so the cookie survives the processor's top-level redirect back
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionResolver{tokens: tokens, store: store, name: cfg.CookieName}
}

// Resolve returns the authenticated user and how they were authenticated
func (s *SessionResolver) Resolve(r *http.Request) (*AuthInfo, bool) {
	if raw, ok := bearerToken(r); ok {
		claims, err := s.tokens.Verify(raw)
		if err != nil {
			return nil, false
		}
		return &AuthInfo{Type: AuthTypeBearer, UserID: claims.Subject, TokenJTI: claims.ID}, true
	}

	sess, err := s.store.Get(r, s.name)
	if err != nil || sess.IsNew {
		return nil, false
	}
	userID, _ := sess.Values[sessionUserKey].(string)
	if userID == "" {
		return nil, false
	}
	return &AuthInfo{Type: AuthTypeSession, UserID: userID}, true
}

// UserID implements ports.SessionResolver
func (s *SessionResolver) UserID(r *http.Request) (string, bool) {
	info, ok := s.Resolve(r)
	if !ok {
		return "", false
	}
	return info.UserID, true
}

// SignIn starts a cookie session for userID
func (s *SessionResolver) SignIn(w http.ResponseWriter, r *http.Request, userID string) error {
	sess, err := s.store.Get(r, s.name)
	if err != nil && sess == nil {
		return err
	}
	sess.Values[sessionUserKey] = userID
	return sess.Save(r, w)
}

// SignOut ends the cookie session
func (s *SessionResolver) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.store.Get(r, s.name)
	if err != nil && sess == nil {
		return err
	}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
