package archive

import (
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

// Module wires the archival engine into the application. Scheduling is the
// cron module's job; this module only builds and publishes the engine.
type Module struct {
	config Config
	engine *Engine
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "archive",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner. The engine and the DLQ handoff
// sink are registered here so the dlq and cron modules (provisioned later)
// can resolve them.
func (m *Module) Provision(ctx *core.AppContext) error {
	store, err := core.ResolveService[Store](ctx, "storage.archive")
	if err != nil {
		return err
	}
	records, err := core.ResolveService[RecordStore](ctx, "storage.records")
	if err != nil {
		return err
	}
	policies, err := core.ResolveService[PolicyStore](ctx, "storage.policies")
	if err != nil {
		return err
	}

	opts := []Option{WithLogger(ctx.Logger)}
	if set, err := core.ResolveService[*metrics.Set](ctx, "metrics.set"); err == nil {
		opts = append(opts, WithMetrics(set))
	}
	m.engine = NewEngine(m.config, store, records, policies, opts...)

	ctx.RegisterService("archive.engine", m.engine)
	ctx.RegisterService("archive.store", store)
	ctx.RegisterService("archive.dlq_sink", NewDeadLetterSink(m.engine))
	return nil
}

// Engine returns the provisioned engine.
func (m *Module) Engine() *Engine {
	return m.engine
}
