package core

// ModuleID uniquely identifies a module (e.g. "storage.postgres").
type ModuleID string

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID is the unique module identifier, also used as the config key.
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is the minimal interface every module implements. Lifecycle
// participation is opt-in through the interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
