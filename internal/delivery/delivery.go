// Package delivery routes audit events to per-tenant destinations. The
// transport drivers (HTTP, Slack, pager) are collaborators implementing
// Driver; this package owns admission, outcome recording, retry bookkeeping,
// and hand-off to the dead-letter queue when retries are exhausted.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// Sentinel errors for delivery operations.
var (
	// ErrNoDriver indicates the destination references a transport kind no
	// driver is registered for.
	ErrNoDriver = errors.New("delivery: unknown driver")

	// ErrDuplicateDriver indicates a driver with the same kind is already
	// registered in the dispatcher.
	ErrDuplicateDriver = errors.New("delivery: duplicate driver kind")

	// ErrAdmissionDenied indicates the circuit breaker or the disable flag
	// refused the attempt.
	ErrAdmissionDenied = errors.New("delivery: admission denied")
)

// Destination is a configured delivery target.
type Destination struct {
	ID             string
	OrganizationID string
	Kind           string         // driver kind, e.g. "webhook", "slack"
	Endpoint       string
	Settings       map[string]string
}

// Driver delivers one event to a destination over a concrete transport.
type Driver interface {
	// Kind returns the transport identifier drivers register under.
	Kind() string

	// Deliver sends the event. A nil return counts as a delivery success.
	Deliver(ctx context.Context, dest Destination, event audit.Record) error
}

// Dispatcher routes delivery attempts to the correct registered driver.
type Dispatcher struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		drivers: make(map[string]Driver),
	}
}

// Register adds a driver under its kind.
// Returns ErrDuplicateDriver if the kind is already taken.
func (d *Dispatcher) Register(drv Driver) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	kind := drv.Kind()
	if _, exists := d.drivers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDriver, kind)
	}
	d.drivers[kind] = drv
	return nil
}

// Get returns the driver registered under kind, or false if none.
func (d *Dispatcher) Get(kind string) (Driver, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	drv, ok := d.drivers[kind]
	return drv, ok
}

// Kinds returns the kinds of all registered drivers.
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := make([]string, 0, len(d.drivers))
	for kind := range d.drivers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// deliver routes one attempt to the driver for the destination's kind.
func (d *Dispatcher) deliver(ctx context.Context, dest Destination, event audit.Record) error {
	drv, ok := d.Get(dest.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDriver, dest.Kind)
	}
	return drv.Deliver(ctx, dest, event)
}
