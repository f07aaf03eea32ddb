package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"go.uber.org/zap"
)

// AWSSecretsManagerConfig configures the AWS Secrets Manager adapter
type AWSSecretsManagerConfig struct {
	Region string
	// Profile selects a shared-config profile; empty uses the default chain
	Profile string
	// Endpoint overrides the service URL (LocalStack)
	Endpoint string
	CacheTTL time.Duration
}

// DefaultAWSSecretsManagerConfig returns a five minute cache in region
func DefaultAWSSecretsManagerConfig(region string) *AWSSecretsManagerConfig {
	return &AWSSecretsManagerConfig{
		Region:   region,
		CacheTTL: 5 * time.Minute,
	}
}

type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type awsSecretsManagerAdapter struct {
	client secretValueGetter
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSecretsManagerAdapter loads AWS credentials and returns an adapter.
//
// Paths name a secret ("subscription-checkout/settlement") or its ARN. A
// "#field" suffix reads one key of a JSON secret string, so one secret can
// hold both the API key and the signing key.
func NewAWSSecretsManagerAdapter(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("AWS Secrets Manager adapter initialized",
		zap.String("region", cfg.Region),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	return newAWSSecretsManagerAdapter(client, cfg, logger), nil
}

func newAWSSecretsManagerAdapter(client secretValueGetter, cfg *AWSSecretsManagerConfig, logger *zap.Logger) *awsSecretsManagerAdapter {
	return &awsSecretsManagerAdapter{
		client: client,
		logger: logger,
		cache:  newSecretCache(cfg.CacheTTL),
	}
}

// GetSecret reads the AWSCURRENT version of path
func (a *awsSecretsManagerAdapter) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	return a.cache.load(path, func() (*ports.Secret, error) {
		return a.read(ctx, path, "")
	})
}

// GetSecretVersion reads a version by its VersionId
func (a *awsSecretsManagerAdapter) GetSecretVersion(ctx context.Context, path string, version string) (*ports.Secret, error) {
	return a.read(ctx, path, version)
}

func (a *awsSecretsManagerAdapter) read(ctx context.Context, path, version string) (*ports.Secret, error) {
	name, field, _ := strings.Cut(path, "#")
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)}
	if version != "" {
		input.VersionId = aws.String(version)
	}

	out, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
		}
		a.logger.Error("AWS secret read failed", zap.String("path", name), zap.Error(err))
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)
	if field != "" {
		if value, err = jsonField(value, field); err != nil {
			return nil, fmt.Errorf("secret %s: %w", path, err)
		}
	}

	secret := &ports.Secret{
		Value:    value,
		Version:  aws.ToString(out.VersionId),
		Metadata: map[string]string{"arn": aws.ToString(out.ARN), "name": aws.ToString(out.Name)},
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = out.CreatedDate.UTC().Format(time.RFC3339)
	}
	return secret, nil
}

func jsonField(raw, field string) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("field %q requested but value is not a JSON object", field)
	}
	v, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q", ports.ErrSecretNotFound, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", field)
	}
	return s, nil
}
