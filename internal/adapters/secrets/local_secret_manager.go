package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"go.uber.org/zap"
)

// localSecretManager reads secrets from files under a base directory.
// Development only.
type localSecretManager struct {
	root   string
	logger *zap.Logger
}

// NewLocalSecretManager reads "settlement/api-key" from {root}/settlement/api-key.
// Older versions live beside it as "api-key@{version}". A file holding
// {"value": ..., "tags": {...}} is unwrapped; anything else is trimmed text.
func NewLocalSecretManager(root string, logger *zap.Logger) ports.SecretManagerAdapter {
	return &localSecretManager{root: root, logger: logger}
}

func (m *localSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	return m.read(path, "")
}

func (m *localSecretManager) GetSecretVersion(ctx context.Context, path string, version string) (*ports.Secret, error) {
	if version == "" || version == "latest" {
		return m.read(path, "")
	}
	return m.read(path, version)
}

func (m *localSecretManager) read(path, version string) (*ports.Secret, error) {
	name := path
	if version != "" {
		name += "@" + version
	}
	// Clean against "/" so ".." cannot leave root
	file := filepath.Join(m.root, filepath.Clean("/"+name))

	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	m.logger.Debug("Secret read from file", zap.String("path", name))

	if version == "" {
		version = "current"
	}
	var wrapped struct {
		Value     string            `json:"value"`
		Tags      map[string]string `json:"tags"`
		CreatedAt string            `json:"created_at"`
	}
	if json.Unmarshal(data, &wrapped) == nil && wrapped.Value != "" {
		return &ports.Secret{
			Value:     wrapped.Value,
			Version:   version,
			Metadata:  wrapped.Tags,
			CreatedAt: wrapped.CreatedAt,
		}, nil
	}
	return &ports.Secret{Value: strings.TrimSpace(string(data)), Version: version}, nil
}
