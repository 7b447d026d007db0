// Package healthcheck provides the liveness probe for the gateway. The
// checker is stateless, never touches the session store or its locks, and
// answers within a bounded deadline regardless of session load.
package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codemaster-ai/codemaster/pkg/logger"
)

// Probe states reported by Check.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// defaultCheckTimeout bounds the latency of a single check, including the
// pinger round-trip.
const defaultCheckTimeout = 2 * time.Second

// Pinger verifies that the component behind the transport still responds.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the liveness payload returned on /health.
type Status struct {
	Status        string    `json:"status"`
	Transport     string    `json:"transport"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Healthy reports whether the status is the healthy one.
func (s Status) Healthy() bool {
	return s.Status == StatusHealthy
}

// HealthChecker answers liveness probes. It implements http.Handler.
type HealthChecker struct {
	transport string
	pinger    Pinger
	timeout   time.Duration
	started   time.Time
}

// NewHealthChecker creates a health checker for the named transport.
// A nil pinger means there is nothing to probe and the checker always
// reports healthy.
func NewHealthChecker(transport string, pinger Pinger) *HealthChecker {
	return &HealthChecker{
		transport: transport,
		pinger:    pinger,
		timeout:   defaultCheckTimeout,
		started:   time.Now(),
	}
}

// Check performs one liveness check within the checker's deadline.
func (hc *HealthChecker) Check(ctx context.Context) Status {
	status := Status{
		Status:        StatusHealthy,
		Transport:     hc.transport,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(hc.started).Seconds()),
	}

	if hc.pinger == nil {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()
	if err := hc.pinger.Ping(ctx); err != nil {
		status.Status = StatusDegraded
		status.Reason = err.Error()
	}
	return status
}

// ServeHTTP answers GET /health: 200 with the liveness payload when
// healthy, 503 when degraded.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := hc.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.Warnf("Failed to write health response: %v", err)
	}
}
