package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification
var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims; Subject is the user ID
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 bearer tokens
type TokenManager struct {
	key      []byte
	previous [][]byte
	issuer   string
	expiry   time.Duration
	now      func() time.Time
}

const minKeyLen = 32

// NewTokenManager creates a token manager. key must be at least 32 bytes.
func NewTokenManager(key []byte, issuer string, expiry time.Duration) (*TokenManager, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minKeyLen, len(key))
	}
	return &TokenManager{
		key:    key,
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token for userID
func (tm *TokenManager) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}
	now := tm.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.key)
}

// AcceptPrevious lets Verify accept tokens signed with keys that were
// rotated out. Issue keeps signing with the current key.
func (tm *TokenManager) AcceptPrevious(keys ...[]byte) error {
	for i, k := range keys {
		if len(k) < minKeyLen {
			return fmt.Errorf("previous signing key %d must be at least %d bytes", i, minKeyLen)
		}
	}
	tm.previous = append(tm.previous, keys...)
	return nil
}

// Verify parses and validates a token
func (tm *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if len(tm.previous) == 0 {
			return tm.key, nil
		}
		set := jwt.VerificationKeySet{Keys: []jwt.VerificationKey{tm.key}}
		for _, k := range tm.previous {
			set.Keys = append(set.Keys, k)
		}
		return set, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
