package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"go.uber.org/zap"
)

// VaultConfig configures the HashiCorp Vault KV adapter
type VaultConfig struct {
	Address   string
	Namespace string

	// AuthMethod is "token", "approle" or "kubernetes"
	AuthMethod   string
	Token        string
	RoleID       string
	SecretID     string
	K8sTokenPath string
	K8sRole      string

	MountPath string
	// KVVersion is 1 or 2
	KVVersion int
	CacheTTL  time.Duration
}

// DefaultVaultConfig returns token auth against a KV v2 mount at "secret"
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:      address,
		AuthMethod:   "token",
		K8sTokenPath: "/var/run/secrets/kubernetes.io/serviceaccount/token",
		MountPath:    "secret",
		KVVersion:    2,
		CacheTTL:     5 * time.Minute,
	}
}

type vaultAdapter struct {
	kvGet     func(ctx context.Context, path string) (*vault.KVSecret, error)
	kvVersion func(ctx context.Context, path string, version int) (*vault.KVSecret, error)
	logger    *zap.Logger
	cache     *secretCache
}

// NewVaultAdapter logs in to Vault and returns an adapter reading from the KV mount
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.Address
	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if err := vaultLogin(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("vault %s auth: %w", cfg.AuthMethod, err)
	}

	a := &vaultAdapter{
		logger: logger,
		cache:  newSecretCache(cfg.CacheTTL),
	}
	switch cfg.KVVersion {
	case 1:
		kv := client.KVv1(cfg.MountPath)
		a.kvGet = kv.Get
	case 2:
		kv := client.KVv2(cfg.MountPath)
		a.kvGet = kv.Get
		a.kvVersion = kv.GetVersion
	default:
		return nil, fmt.Errorf("unsupported KV version %d", cfg.KVVersion)
	}

	logger.Info("Vault adapter initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount", cfg.MountPath),
		zap.Int("kv_version", cfg.KVVersion),
	)
	return a, nil
}

func vaultLogin(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	var path string
	var body map[string]interface{}

	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return errors.New("VAULT_TOKEN is required")
		}
		client.SetToken(cfg.Token)
		return nil
	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return errors.New("role_id and secret_id are required")
		}
		path = "auth/approle/login"
		body = map[string]interface{}{"role_id": cfg.RoleID, "secret_id": cfg.SecretID}
	case "kubernetes":
		if cfg.K8sRole == "" {
			return errors.New("kubernetes role is required")
		}
		jwt, err := os.ReadFile(cfg.K8sTokenPath)
		if err != nil {
			return fmt.Errorf("read service account token: %w", err)
		}
		path = "auth/kubernetes/login"
		body = map[string]interface{}{"jwt": string(jwt), "role": cfg.K8sRole}
	default:
		return fmt.Errorf("unsupported auth method %q", cfg.AuthMethod)
	}

	resp, err := client.Logical().WriteWithContext(ctx, path, body)
	if err != nil {
		return err
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("%s returned no token", path)
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// GetSecret reads the latest version at path, e.g. "subscription-checkout/settlement"
func (a *vaultAdapter) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	return a.cache.load(path, func() (*ports.Secret, error) {
		kv, err := a.kvGet(ctx, path)
		if err != nil {
			return nil, a.readError(path, err)
		}
		secret, err := fromKV(kv)
		if err != nil {
			return nil, fmt.Errorf("vault secret %s: %w", path, err)
		}
		return secret, nil
	})
}

// GetSecretVersion reads one version; KV v1 mounts keep no history
func (a *vaultAdapter) GetSecretVersion(ctx context.Context, path string, version string) (*ports.Secret, error) {
	if a.kvVersion == nil {
		return nil, errors.New("vault KV v1 mounts are not versioned")
	}
	n, err := strconv.Atoi(version)
	if err != nil {
		return nil, fmt.Errorf("vault version %q: %w", version, err)
	}

	kv, err := a.kvVersion(ctx, path, n)
	if err != nil {
		return nil, a.readError(path, err)
	}
	return fromKV(kv)
}

func (a *vaultAdapter) readError(path string, err error) error {
	if errors.Is(err, vault.ErrSecretNotFound) {
		return fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
	}
	a.logger.Error("Vault read failed", zap.String("path", path), zap.Error(err))
	return fmt.Errorf("vault read %s: %w", path, err)
}

// fromKV takes the "value" field, or the only string field when there is one
func fromKV(kv *vault.KVSecret) (*ports.Secret, error) {
	if kv == nil || kv.Data == nil {
		return nil, ports.ErrSecretNotFound
	}

	secret := &ports.Secret{Metadata: make(map[string]string)}
	var only string
	n := 0
	for k, v := range kv.Data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n++
		only = s
		if k == "value" {
			secret.Value = s
		} else {
			secret.Metadata[k] = s
		}
	}
	if secret.Value == "" && n == 1 {
		secret.Value = only
	}
	if secret.Value == "" {
		return nil, errors.New("no value field")
	}

	if md := kv.VersionMetadata; md != nil {
		secret.Version = strconv.Itoa(md.Version)
		if !md.CreatedTime.IsZero() {
			secret.CreatedAt = md.CreatedTime.Format(time.RFC3339)
		}
	} else {
		secret.Version = "1"
	}
	return secret, nil
}
