// Package health tracks per-destination delivery outcomes and gates
// admission through a circuit breaker. Counters and circuit state for a
// destination are mutated only through the store's atomic Update, so status
// observes a consistent order within each destination.
package health

import (
	"log/slog"
	"time"

	"github.com/smedrec/smart-logs/internal/metrics"
)

// Status is the coarse health classification of a destination.
type Status string

// Destination statuses. Disabled is terminal until an explicit re-enable.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusDisabled  Status = "disabled"
)

// CircuitState is the admission gate state, independent of Status.
type CircuitState string

// Circuit breaker states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// responseTimeAlpha is the smoothing factor for the response-time EMA.
const responseTimeAlpha = 0.2

// maxLastErrorLen bounds the stored copy of the last delivery error.
const maxLastErrorLen = 1024

// Health is the persisted delivery-health record for one destination.
type Health struct {
	DestinationID  string `json:"destinationId"`
	OrganizationID string `json:"organizationId,omitempty"`

	Status               Status `json:"status"`
	ConsecutiveFailures  int    `json:"consecutiveFailures"`
	ConsecutiveSuccesses int    `json:"consecutiveSuccesses"`
	TotalDeliveries      int64  `json:"totalDeliveries"`
	TotalFailures        int64  `json:"totalFailures"`

	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`

	CircuitState    CircuitState `json:"circuitBreakerState"`
	CircuitOpenedAt *time.Time   `json:"circuitBreakerOpenedAt,omitempty"`

	DisabledAt     *time.Time `json:"disabledAt,omitempty"`
	DisabledReason string     `json:"disabledReason,omitempty"`

	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// SuccessRate returns the delivery success percentage over the lifetime of
// the destination.
func (h *Health) SuccessRate() float64 {
	total := h.TotalDeliveries
	if total < 1 {
		total = 1
	}
	return float64(h.TotalDeliveries-h.TotalFailures) / float64(total) * 100
}

// Config holds the tracker thresholds. Zero values take the documented
// defaults.
type Config struct {
	DegradedThreshold  int           // consecutive failures before degraded (default 3)
	UnhealthyThreshold int           // consecutive failures before unhealthy (default 5)
	DisableThreshold   int           // consecutive failures before disable (default 10)
	MinSuccessRate     float64       // percentage below which a destination degrades (default 95)
	MinSamples         int64         // deliveries required before MinSuccessRate applies (default 20)
	BreakerThreshold   int           // consecutive failures before the circuit opens (default 5)
	BreakerTimeout     time.Duration // open-state hold before half-open (default 300s)
	HalfOpenMax        int           // concurrent half-open probes per destination (default 1)
	OpTimeout          time.Duration // bound on store operations; admission fails open past it (default 5s)

	Logger  *slog.Logger
	Metrics *metrics.Set     // optional instrumentation
	Now     func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 5
	}
	if c.DisableThreshold <= 0 {
		c.DisableThreshold = 10
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 95
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 5 * time.Minute
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// truncate bounds s to max bytes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
