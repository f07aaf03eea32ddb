package ports

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when the requested secret path does not exist
var ErrSecretNotFound = errors.New("secret not found")

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string            // The secret value (e.g., settlement API key)
	Version   string            // Secret version identifier
	Metadata  map[string]string // Additional secret metadata
	CreatedAt string            // When this version was created
}

// SecretManagerAdapter defines the port for retrieving secrets from a secret management service
// Supports multiple backends: AWS Secrets Manager, GCP Secret Manager, HashiCorp Vault, local files
// Implementation is responsible for:
//   - Authentication with the secret manager service
//   - Caching secrets appropriately (with TTL)
type SecretManagerAdapter interface {
	// GetSecret retrieves the latest version of a secret by its path/name
	// Path format depends on implementation:
	//   - AWS: "subscription-checkout/settlement/api-key"
	//   - GCP: "settlement-api-key" (resolved to projects/{project}/secrets/{name}/versions/latest)
	//   - Vault: "subscription-checkout/settlement" under the KV mount
	// Returns ErrSecretNotFound (wrapped) when the secret does not exist
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// GetSecretVersion retrieves a specific version of a secret
	// Useful during key rotation to access the previous session signing key
	GetSecretVersion(ctx context.Context, path string, version string) (*Secret, error)
}
