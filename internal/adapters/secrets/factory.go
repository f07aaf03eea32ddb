package secrets

import (
	"context"
	"fmt"

	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"github.com/kevin07696/subscription-checkout/internal/config"
	"go.uber.org/zap"
)

// NewFromConfig initializes the secret manager named by SECRET_MANAGER
// Supports:
//   - local (development): files under LOCAL_SECRETS_PATH
//   - aws: AWS Secrets Manager in AWS_REGION
//   - gcp: GCP Secret Manager in GCP_PROJECT_ID
//   - vault: HashiCorp Vault KV at VAULT_ADDR with VAULT_TOKEN
func NewFromConfig(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	switch cfg.Manager {
	case "aws":
		awsCfg := DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		awsCfg.CacheTTL = cfg.CacheTTL
		return NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)
	case "gcp":
		gcpCfg := DefaultGCPSecretManagerConfig(cfg.GCPProjectID)
		gcpCfg.CacheTTL = cfg.CacheTTL
		return NewGCPSecretManager(ctx, gcpCfg, logger)
	case "vault":
		vaultCfg := DefaultVaultConfig(cfg.VaultAddress)
		vaultCfg.Token = cfg.VaultToken
		vaultCfg.CacheTTL = cfg.CacheTTL
		return NewVaultAdapter(ctx, vaultCfg, logger)
	case "local":
		logger.Warn("Using LOCAL secret manager - NOT for production use!",
			zap.String("path", cfg.LocalPath),
		)
		return NewLocalSecretManager(cfg.LocalPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown secret manager %q", cfg.Manager)
	}
}

// Resolve returns value when set, otherwise reads path from sm
func Resolve(ctx context.Context, sm ports.SecretManagerAdapter, value, path string) (string, error) {
	if value != "" {
		return value, nil
	}
	secret, err := sm.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	return secret.Value, nil
}

// ResolveVersion reads one version of path; an empty version returns ""
func ResolveVersion(ctx context.Context, sm ports.SecretManagerAdapter, path, version string) (string, error) {
	if version == "" {
		return "", nil
	}
	secret, err := sm.GetSecretVersion(ctx, path, version)
	if err != nil {
		return "", fmt.Errorf("read secret %s version %s: %w", path, version, err)
	}
	return secret.Value, nil
}
