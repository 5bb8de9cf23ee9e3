package config

import (
	"slices"
	"strings"
)

// modulePrecedence orders module loading so providers are provisioned and
// started before their consumers: telemetry first, then storage and queue
// backends, then the domain services, with the gateway last.
var modulePrecedence = []string{
	"telemetry.",
	"storage.",
	"queue.",
	"health",
	"archive",
	"dlq",
	"monitor",
	"cron",
	"gateway.",
}

func precedence(id string) int {
	for i, prefix := range modulePrecedence {
		if strings.HasPrefix(id, prefix) {
			return i
		}
	}
	return len(modulePrecedence)
}

// Resolve returns the module IDs from the configuration in load order:
// subsystem precedence first, then lexicographic for determinism.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if pa, pb := precedence(a), precedence(b); pa != pb {
			return pa - pb
		}
		return strings.Compare(a, b)
	})
	return ids
}
