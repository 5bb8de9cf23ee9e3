package dlq

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
	"github.com/smedrec/smart-logs/internal/metrics"
	"github.com/smedrec/smart-logs/internal/queue"
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

// ModuleConfig is the YAML shape of the dlq module section.
type ModuleConfig struct {
	AlertThreshold   int `yaml:"alert_threshold"`
	AlertCooldownSec int `yaml:"alert_cooldown_seconds"`
	ArchiveAfterDays int `yaml:"archive_after_days"`
	MaxRetentionDays int `yaml:"max_retention_days"`
	PollIntervalSec  int `yaml:"poll_interval_seconds"`
}

// Module wires the DLQ service and its worker into the application.
type Module struct {
	config  ModuleConfig
	service *Service
	runCtx  context.Context
	cancel  context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "dlq",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	q, err := core.ResolveService[queue.Queue](ctx, "queue.dlq")
	if err != nil {
		return err
	}
	// Aged events hand off to the archival engine when it is loaded.
	sink, _ := core.ResolveService[ArchiveSink](ctx, "archive.dlq_sink")
	set, _ := core.ResolveService[*metrics.Set](ctx, "metrics.set")

	m.service = NewService(q, sink, Config{
		AlertThreshold:   m.config.AlertThreshold,
		AlertCooldown:    time.Duration(m.config.AlertCooldownSec) * time.Second,
		ArchiveAfterDays: m.config.ArchiveAfterDays,
		MaxRetentionDays: m.config.MaxRetentionDays,
		PollInterval:     time.Duration(m.config.PollIntervalSec) * time.Second,
		Logger:           ctx.Logger,
		Metrics:          set,
	})

	ctx.RegisterService("dlq.service", m.service)
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	m.runCtx, m.cancel = context.WithCancel(context.Background())
	return m.service.StartWorker(m.runCtx)
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		defer m.cancel()
	}
	return m.service.StopWorker(ctx)
}

// Service returns the provisioned DLQ service.
func (m *Module) Service() *Service {
	return m.service
}
