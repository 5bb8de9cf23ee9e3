package queue

import (
	"github.com/smedrec/smart-logs/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guard.
var _ core.Provisioner = (*Module)(nil)

// Module registers the in-process queue for embedded and development
// deployments. Events do not survive a restart; production setups load
// queue.redis instead.
type Module struct {
	queue *Memory
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "queue.memory",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.queue = NewMemory()
	ctx.RegisterService("queue.dlq", m.queue)
	ctx.Logger.Warn("using in-memory DLQ queue; events will not survive restarts")
	return nil
}
