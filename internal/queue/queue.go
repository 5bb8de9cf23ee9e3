// Package queue defines the durable FIFO job queue consumed by the
// dead-letter subsystem, plus an in-memory implementation for tests and
// embedded deployments. Durable backends live under modules/queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a job.
type State string

// Job states. Completed jobs are preserved (not removed) unless the caller
// asks for removal explicitly.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrEmpty is returned by Dequeue when no waiting job exists.
var ErrEmpty = errors.New("queue: no waiting jobs")

// ErrJobNotFound is returned when a job id does not resolve.
var ErrJobNotFound = errors.New("queue: job not found")

// Job is a queued unit of work with an opaque payload.
type Job struct {
	ID           string
	State        State
	Payload      []byte
	EnqueuedAt   time.Time
	ProcessedAt  *time.Time
	FailedReason string
}

// Queue is a durable FIFO with at-least-once delivery. Enqueue order defines
// processing order; implementations must hand jobs to Dequeue FIFO.
type Queue interface {
	// Enqueue appends a job and returns its id.
	Enqueue(ctx context.Context, payload []byte) (string, error)

	// Dequeue claims the oldest waiting job, moving it to active.
	// Returns ErrEmpty when nothing is waiting.
	Dequeue(ctx context.Context) (*Job, error)

	// Complete moves an active job to completed. With remove set the job is
	// dropped entirely instead of preserved.
	Complete(ctx context.Context, id string, remove bool) error

	// Fail moves an active job to failed with a reason.
	Fail(ctx context.Context, id string, reason string) error

	// Remove drops a job in any state.
	Remove(ctx context.Context, id string) error

	// List returns jobs in the given states (all states when none given),
	// in enqueue order.
	List(ctx context.Context, states ...State) ([]*Job, error)
}
