package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/smedrec/smart-logs/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guard.
var _ core.Provisioner = (*Module)(nil)

// Module owns the Prometheus registry. It provisions before every other
// module so the domain services can resolve the collector set; the gateway
// serves the registry on /metrics.
type Module struct {
	registry *prometheus.Registry
	set      *Set
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.metrics",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.set = NewSet(m.registry)

	ctx.RegisterService("metrics.registry", m.registry)
	ctx.RegisterService("metrics.set", m.set)
	return nil
}
