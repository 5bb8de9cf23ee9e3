package health

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
	"github.com/smedrec/smart-logs/internal/metrics"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
)

// ModuleConfig is the YAML shape of the health module section.
type ModuleConfig struct {
	DegradedThreshold  int     `yaml:"degraded_threshold"`
	UnhealthyThreshold int     `yaml:"unhealthy_threshold"`
	DisableThreshold   int     `yaml:"disable_threshold"`
	MinSuccessRate     float64 `yaml:"min_success_rate"`
	BreakerThreshold   int     `yaml:"circuit_breaker_threshold"`
	BreakerTimeoutSec  int     `yaml:"circuit_breaker_timeout_seconds"`
	HalfOpenMax        int     `yaml:"half_open_max_attempts"`
	OpTimeoutSec       int     `yaml:"op_timeout_seconds"`
}

// Module wires the tracker into the application: it resolves the storage
// ports and publishes the tracker for the delivery workers, the monitor,
// and the gateway.
type Module struct {
	config  ModuleConfig
	tracker *Tracker
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "health",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	store, err := core.ResolveService[Store](ctx, "storage.health")
	if err != nil {
		return err
	}
	// The destination kill-switch is optional: embedded deployments may not
	// manage destination rows at all.
	disabler, _ := core.ResolveService[DestinationDisabler](ctx, "storage.destinations")
	set, _ := core.ResolveService[*metrics.Set](ctx, "metrics.set")

	m.tracker = NewTracker(store, disabler, Config{
		DegradedThreshold:  m.config.DegradedThreshold,
		UnhealthyThreshold: m.config.UnhealthyThreshold,
		DisableThreshold:   m.config.DisableThreshold,
		MinSuccessRate:     m.config.MinSuccessRate,
		BreakerThreshold:   m.config.BreakerThreshold,
		BreakerTimeout:     time.Duration(m.config.BreakerTimeoutSec) * time.Second,
		HalfOpenMax:        m.config.HalfOpenMax,
		OpTimeout:          time.Duration(m.config.OpTimeoutSec) * time.Second,
		Logger:             ctx.Logger,
		Metrics:            set,
	})

	ctx.RegisterService("health.tracker", m.tracker)
	return nil
}

// Tracker returns the provisioned tracker.
func (m *Module) Tracker() *Tracker {
	return m.tracker
}
