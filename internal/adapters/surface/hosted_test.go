package surface

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHosted(t *testing.T) (*Hosted, *time.Time) {
	t.Helper()
	cfg := DefaultHostedConfig()
	cfg.OpenRate = 0.001
	cfg.OpenBurst = 2

	h := NewHosted(cfg, mocks.NewMockLogger())
	t.Cleanup(h.Shutdown)

	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	return h, &now
}

// surfaceOpens reads payment_surfaces_opened_total{kind,result} from the default registry
func surfaceOpens(t *testing.T, kind, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "payment_surfaces_opened_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["kind"] == kind && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestHosted_OpenAndLoad(t *testing.T) {
	h, _ := newTestHosted(t)
	ctx := context.Background()
	surface := h.ForUser("user-1")

	before := surfaceOpens(t, "document", "opened")
	handle, err := surface.OpenWithDocument(ctx, "<form id=pay></form>")
	require.NoError(t, err)
	assert.Equal(t, before+1, surfaceOpens(t, "document", "opened"))
	assert.Equal(t, "/checkout/"+handle.ID, handle.URL)
	assert.False(t, surface.IsClosed(ctx, handle))

	doc, err := h.Load(handle.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "<form id=pay></form>", doc)

	_, err = h.Load(handle.ID, "user-2")
	assert.ErrorIs(t, err, ErrUnknownSurface, "windows are private to their user")
}

func TestHosted_Liveness(t *testing.T) {
	tests := []struct {
		name       string
		load       bool
		advance    time.Duration
		heartbeat  bool
		wantClosed bool
	}{
		{"never loaded within grace", false, 20 * time.Second, false, false},
		{"never loaded past grace", false, 31 * time.Second, false, true},
		{"loaded and beating", true, 5 * time.Second, true, false},
		{"loaded then silent", true, 7 * time.Second, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, now := newTestHosted(t)
			ctx := context.Background()
			surface := h.ForUser("user-1")

			handle, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
			require.NoError(t, err)

			if tt.load {
				_, err := h.Load(handle.ID, "user-1")
				require.NoError(t, err)
			}
			*now = now.Add(tt.advance)
			if tt.heartbeat {
				require.NoError(t, h.Heartbeat(handle.ID, "user-1"))
			}

			assert.Equal(t, tt.wantClosed, surface.IsClosed(ctx, handle))
		})
	}
}

func TestHosted_DismissBeacon(t *testing.T) {
	h, _ := newTestHosted(t)
	ctx := context.Background()
	surface := h.ForUser("user-1")

	handle, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
	require.NoError(t, err)
	_, err = h.Load(handle.ID, "user-1")
	require.NoError(t, err)

	require.NoError(t, h.Dismiss(handle.ID, "user-1"))
	assert.True(t, surface.IsClosed(ctx, handle))

	_, err = h.Load(handle.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrValidationFailed, "closed windows cannot be reloaded")
}

func TestHosted_EngineClose(t *testing.T) {
	h, _ := newTestHosted(t)
	ctx := context.Background()
	surface := h.ForUser("user-1")

	handle, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
	require.NoError(t, err)
	require.NoError(t, surface.Close(ctx, handle))
	require.NoError(t, surface.Close(ctx, handle), "close is idempotent")
	assert.True(t, surface.IsClosed(ctx, handle))

	assert.True(t, surface.IsClosed(ctx, nil))
	assert.NoError(t, surface.Close(ctx, nil))
}

func TestHosted_BlockedAboveOpenRate(t *testing.T) {
	h, _ := newTestHosted(t)
	ctx := context.Background()
	surface := h.ForUser("user-1")

	for i := 0; i < 2; i++ {
		_, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
		require.NoError(t, err)
	}

	opened := surfaceOpens(t, "document", "opened")
	blocked := surfaceOpens(t, "document", "blocked")
	handle, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
	assert.Nil(t, handle)
	assert.ErrorIs(t, err, domain.ErrSurfaceBlocked)
	assert.Equal(t, blocked+1, surfaceOpens(t, "document", "blocked"))
	assert.Equal(t, opened, surfaceOpens(t, "document", "opened"))

	_, err = h.ForUser("user-2").OpenWithDocument(ctx, "<p>pay</p>")
	assert.NoError(t, err, "other users are not throttled")
}

func TestHosted_Redirect(t *testing.T) {
	h, _ := newTestHosted(t)
	surface := h.ForUser("user-1")

	require.NoError(t, surface.OpenWithRedirect(context.Background(), "https://paypal.example/approve?token=abc"))

	target, ok := h.TakeRedirect("user-1")
	assert.True(t, ok)
	assert.Equal(t, "https://paypal.example/approve?token=abc", target)

	_, ok = h.TakeRedirect("user-1")
	assert.False(t, ok)

	assert.ErrorIs(t, surface.OpenWithRedirect(context.Background(), ""), domain.ErrValidationFailed)
}

func TestHosted_Sweep(t *testing.T) {
	h, now := newTestHosted(t)
	ctx := context.Background()
	surface := h.ForUser("user-1")

	handle, err := surface.OpenWithDocument(ctx, "<p>pay</p>")
	require.NoError(t, err)
	require.NoError(t, surface.Close(ctx, handle))

	*now = now.Add(10 * time.Minute)
	assert.Equal(t, 0, h.Sweep())

	*now = now.Add(10 * time.Minute)
	assert.Equal(t, 1, h.Sweep())
	assert.ErrorIs(t, h.Heartbeat(handle.ID, "user-1"), ErrUnknownSurface)
	assert.True(t, surface.IsClosed(ctx, handle))
}

func TestDocumentURL(t *testing.T) {
	url := DocumentURL("<form></form>")
	require.True(t, strings.HasPrefix(url, "data:text/html;charset=utf-8;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:text/html;charset=utf-8;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "<form></form>", string(decoded))
}
