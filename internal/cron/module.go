package cron

import (
	"context"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/internal/core"
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

// ModuleConfig is the YAML shape of the cron module section. Empty
// schedules take the job defaults.
type ModuleConfig struct {
	ArchivalSchedule string `yaml:"archival_schedule"`
	CleanupSchedule  string `yaml:"cleanup_schedule"`
	SweepSchedule    string `yaml:"dlq_sweep_schedule"`
}

// Module runs the retention jobs on the scheduler.
type Module struct {
	config    ModuleConfig
	appCtx    *core.AppContext
	logger    *slog.Logger
	scheduler *Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.scheduler = NewScheduler(ctx.Logger)

	// The gateway exposes job statuses on its ops surface.
	ctx.RegisterService("cron.scheduler", m.scheduler)
	return nil
}

// Start implements core.Starter. Jobs are registered here so every module
// they touch is already provisioned.
func (m *Module) Start() error {
	engine, err := core.ResolveService[*archive.Engine](m.appCtx, "archive.engine")
	if err != nil {
		return err
	}

	if err := m.scheduler.RegisterJob(&RetentionArchivalJob{
		Engine:       engine,
		Logger:       m.logger,
		ScheduleExpr: m.config.ArchivalSchedule,
	}); err != nil {
		return err
	}
	if err := m.scheduler.RegisterJob(&ArchiveCleanupJob{
		Engine:       engine,
		Logger:       m.logger,
		ScheduleExpr: m.config.CleanupSchedule,
	}); err != nil {
		return err
	}

	// The DLQ sweep only runs when the dlq module is loaded.
	if sweeper, err := core.ResolveService[DeadLetterSweeper](m.appCtx, "dlq.service"); err == nil {
		if err := m.scheduler.RegisterJob(&DLQSweepJob{
			Sweeper:      sweeper,
			Logger:       m.logger,
			ScheduleExpr: m.config.SweepSchedule,
		}); err != nil {
			return err
		}
	}

	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
