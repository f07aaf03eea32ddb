package settlement

import (
	"context"
	"fmt"

	adapterports "github.com/kevin07696/subscription-checkout/internal/adapters/ports"
)

// APIKeySource supplies the bearer key sent to the settlement backend
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticAPIKey is a fixed key, for local development and tests
type StaticAPIKey string

// APIKey returns the fixed key
func (k StaticAPIKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// SecretAPIKey reads the key from a secret manager on every call.
// Rotation is picked up once the adapter cache expires.
type SecretAPIKey struct {
	Manager adapterports.SecretManagerAdapter
	Path    string
}

// APIKey fetches the current key
func (k SecretAPIKey) APIKey(ctx context.Context) (string, error) {
	secret, err := k.Manager.GetSecret(ctx, k.Path)
	if err != nil {
		return "", fmt.Errorf("settlement api key: %w", err)
	}
	return secret.Value, nil
}
