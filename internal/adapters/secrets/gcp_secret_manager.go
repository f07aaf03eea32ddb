package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPSecretManagerConfig configures the GCP Secret Manager adapter
type GCPSecretManagerConfig struct {
	ProjectID string
	CacheTTL  time.Duration
}

// DefaultGCPSecretManagerConfig returns a five minute cache in projectID
func DefaultGCPSecretManagerConfig(projectID string) *GCPSecretManagerConfig {
	return &GCPSecretManagerConfig{ProjectID: projectID, CacheTTL: 5 * time.Minute}
}

type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCPSecretManager reads secrets with application default credentials
type GCPSecretManager struct {
	client    versionAccessor
	closer    func() error
	projectID string
	logger    *zap.Logger
	cache     *secretCache
}

// NewGCPSecretManager dials Secret Manager. Paths are secret IDs in the
// configured project, or full "projects/{p}/secrets/{s}" names.
func NewGCPSecretManager(ctx context.Context, cfg *GCPSecretManagerConfig, logger *zap.Logger) (*GCPSecretManager, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP project ID is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCP Secret Manager client: %w", err)
	}

	logger.Info("GCP Secret Manager adapter initialized",
		zap.String("project_id", cfg.ProjectID),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	sm := newGCPSecretManager(client, cfg, logger)
	sm.closer = client.Close
	return sm, nil
}

func newGCPSecretManager(client versionAccessor, cfg *GCPSecretManagerConfig, logger *zap.Logger) *GCPSecretManager {
	return &GCPSecretManager{
		client:    client,
		closer:    func() error { return nil },
		projectID: cfg.ProjectID,
		logger:    logger,
		cache:     newSecretCache(cfg.CacheTTL),
	}
}

// Close releases the gRPC connection
func (sm *GCPSecretManager) Close() error {
	return sm.closer()
}

func (sm *GCPSecretManager) GetSecret(ctx context.Context, id string) (*ports.Secret, error) {
	return sm.cache.load(id, func() (*ports.Secret, error) {
		return sm.access(ctx, id, "latest")
	})
}

func (sm *GCPSecretManager) GetSecretVersion(ctx context.Context, id string, version string) (*ports.Secret, error) {
	if version == "" {
		version = "latest"
	}
	return sm.access(ctx, id, version)
}

// resourceName expands a secret ID into its version resource name
func (sm *GCPSecretManager) resourceName(secret, version string) string {
	if !strings.HasPrefix(secret, "projects/") {
		secret = "projects/" + sm.projectID + "/secrets/" + secret
	}
	return secret + "/versions/" + version
}

func (sm *GCPSecretManager) access(ctx context.Context, secret, version string) (*ports.Secret, error) {
	name := sm.resourceName(secret, version)
	resp, err := sm.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, name)
		case codes.FailedPrecondition:
			// Disabled or destroyed versions
			return nil, fmt.Errorf("%w: %s is not enabled", ports.ErrSecretNotFound, name)
		}
		sm.logger.Error("GCP secret access failed", zap.String("secret", name), zap.Error(err))
		return nil, fmt.Errorf("access %s: %w", name, err)
	}

	sm.logger.Debug("Secret fetched from GCP", zap.String("secret", name))
	if resp.GetName() != "" {
		version = path.Base(resp.GetName())
	}
	return &ports.Secret{
		Value:   string(resp.GetPayload().GetData()),
		Version: version,
		Metadata: map[string]string{
			"project_id": sm.projectID,
			"secret":     secret,
		},
	}, nil
}
