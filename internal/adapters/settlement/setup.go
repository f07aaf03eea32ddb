package settlement

import (
	"fmt"

	adapterports "github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"github.com/kevin07696/subscription-checkout/internal/config"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	pkghttp "github.com/kevin07696/subscription-checkout/pkg/http"
)

// NewFromConfig builds a client with the pooled settlement transport. A
// configured API key is used as-is; otherwise it is read from sm on each call.
func NewFromConfig(cfg config.SettlementConfig, sm adapterports.SecretManagerAdapter, logger ports.Logger) (*Client, error) {
	clientCfg := DefaultConfig(cfg.BaseURL)
	clientCfg.Timeout = cfg.Timeout
	if cfg.BreakerFailures > 0 {
		clientCfg.Breaker.Threshold = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerCooldown > 0 {
		clientCfg.Breaker.Cooldown = cfg.BreakerCooldown
	}

	var apiKey APIKeySource
	switch {
	case cfg.APIKey != "":
		apiKey = StaticAPIKey(cfg.APIKey)
	case cfg.APIKeySecretPath != "" && sm != nil:
		apiKey = SecretAPIKey{Manager: sm, Path: cfg.APIKeySecretPath}
	default:
		return nil, fmt.Errorf("settlement api key: set SETTLEMENT_API_KEY or SETTLEMENT_API_KEY_SECRET")
	}

	httpClient := pkghttp.NewHTTPClient(pkghttp.SettlementClientConfig(), cfg.Timeout)
	return NewClient(clientCfg, httpClient, apiKey, logger), nil
}
