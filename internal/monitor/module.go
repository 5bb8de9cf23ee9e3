package monitor

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
	"github.com/smedrec/smart-logs/internal/health"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleConfig is the YAML shape of the monitor module section.
type ModuleConfig struct {
	IntervalSec int `yaml:"health_check_interval_seconds"`
}

// Module wires the health monitor loop into the application.
type Module struct {
	config  ModuleConfig
	monitor *Monitor
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "monitor",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	tracker, err := core.ResolveService[*health.Tracker](ctx, "health.tracker")
	if err != nil {
		return err
	}

	mon, err := New(Config{
		Interval: time.Duration(m.config.IntervalSec) * time.Second,
		Logger:   ctx.Logger,
	}, tracker)
	if err != nil {
		return err
	}
	m.monitor = mon
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.monitor.Start(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.monitor.Stop(ctx)
}
