package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfig_StaticKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_configured", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	client, err := NewFromConfig(config.SettlementConfig{
		BaseURL:         server.URL,
		APIKey:          "sk_configured",
		Timeout:         2 * time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	_, err = client.GetPlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), client.config.Breaker.Threshold)
	assert.Equal(t, time.Minute, client.config.Breaker.Cooldown)
}

func TestNewFromConfig_RequiresKeySource(t *testing.T) {
	_, err := NewFromConfig(config.SettlementConfig{BaseURL: "http://localhost", APIKeySecretPath: "settlement/api-key"}, nil, nil)
	assert.Error(t, err)
}
