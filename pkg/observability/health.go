package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/subscription-checkout/pkg/encoding"
	"github.com/redis/go-redis/v9"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// Probe is one named dependency check. A failing non-critical probe
// degrades the service without failing /health.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// PostgresProbe pings the pool; a nil pool yields no probe
func PostgresProbe(pool *pgxpool.Pool) []Probe {
	if pool == nil {
		return nil
	}
	return []Probe{{Name: "database", Critical: true, Check: pool.Ping}}
}

// RedisProbe pings the client; a nil client yields no probe
func RedisProbe(client *redis.Client) []Probe {
	if client == nil {
		return nil
	}
	return []Probe{{Name: "redis", Critical: true, Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}}
}

// HealthStatus is the /health response body
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Probes    []string          `json:"probes,omitempty"`
}

// HealthChecker runs its probes concurrently, each under its own timeout
type HealthChecker struct {
	probes  []Probe
	timeout time.Duration
}

// NewHealthChecker builds a checker over probes
func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, timeout: 2 * time.Second}
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]error, len(h.probes))
	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			results[i] = p.Check(pctx)
		}(i, p)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(h.probes)),
	}
	for i, p := range h.probes {
		status.Probes = append(status.Probes, p.Name)
		err := results[i]
		if err == nil {
			status.Checks[p.Name] = statusHealthy
			continue
		}
		status.Checks[p.Name] = statusUnhealthy + ": " + err.Error()
		switch {
		case p.Critical:
			status.Status = statusUnhealthy
		case status.Status == statusHealthy:
			status.Status = statusDegraded
		}
	}
	sort.Strings(status.Probes)
	return status
}

// HealthHandler answers 503 only when a critical probe fails
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())
		code := http.StatusOK
		if status.Status == statusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		_ = encoding.WriteJSON(w, code, status)
	}
}
