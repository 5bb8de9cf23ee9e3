// Package dlq quarantines audit events that exhausted delivery retries,
// exposes queue metrics, raises threshold alerts, and ages events out per
// the retention configuration.
package dlq

import (
	"time"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// maxErrorStackLen bounds the stored stack trace of the final failure.
const maxErrorStackLen = 4096

// RetryAttempt is one entry of a delivery retry history.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// Event is a quarantined audit event with its failure forensics. Retry
// history is append-only and strictly ascending by attempt.
type Event struct {
	OriginalEvent     audit.Record   `json:"originalEvent"`
	FailureReason     string         `json:"failureReason"`
	FailureCount      int            `json:"failureCount"`
	FirstFailureTime  time.Time      `json:"firstFailureTime"`
	LastFailureTime   time.Time      `json:"lastFailureTime"`
	OriginalJobID     string         `json:"originalJobId,omitempty"`
	OriginalQueueName string         `json:"originalQueueName,omitempty"`
	RetryHistory      []RetryAttempt `json:"retryHistory"`
	ErrorStack        string         `json:"errorStack,omitempty"`
}

// Metrics is the aggregate view over every DLQ job regardless of state.
type Metrics struct {
	TotalEvents       int             `json:"totalEvents"`
	EventsToday       int             `json:"eventsToday"`
	OldestEvent       *time.Time      `json:"oldestEvent,omitempty"`
	NewestEvent       *time.Time      `json:"newestEvent,omitempty"`
	TopFailureReasons []FailureReason `json:"topFailureReasons"`
}

// FailureReason is a failure-reason aggregate.
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}
