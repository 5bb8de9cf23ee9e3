// Package metrics defines the Prometheus instrumentation shared by the
// delivery, DLQ, and archival subsystems. Collectors register on a caller
// supplied registry so tests can use isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds every collector exported by the service.
type Set struct {
	DeliveriesTotal      *prometheus.CounterVec
	DeliveriesDenied     prometheus.Counter
	DLQEventsTotal       prometheus.Counter
	DLQQueueSize         prometheus.Gauge
	DLQAlertsFired       prometheus.Counter
	ArchivesCreated      prometheus.Counter
	ArchiveBytesOriginal prometheus.Counter
	ArchiveBytesStored   prometheus.Counter
	RecordsArchived      prometheus.Counter
	RecordsDeleted       prometheus.Counter
}

// NewSet creates and registers all collectors on reg.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "delivery",
			Name:      "outcomes_total",
			Help:      "Delivery outcomes recorded by the health tracker.",
		}, []string{"result"}),
		DeliveriesDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "delivery",
			Name:      "admission_denied_total",
			Help:      "Delivery attempts denied by the circuit breaker or disable flag.",
		}),
		DLQEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "dlq",
			Name:      "events_total",
			Help:      "Events quarantined in the dead-letter queue.",
		}),
		DLQQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartlogs",
			Subsystem: "dlq",
			Name:      "queue_size",
			Help:      "Current number of jobs held in the dead-letter queue.",
		}),
		DLQAlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "dlq",
			Name:      "alerts_fired_total",
			Help:      "DLQ threshold alerts dispatched to callbacks.",
		}),
		ArchivesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "archive",
			Name:      "created_total",
			Help:      "Archives created by the archival engine.",
		}),
		ArchiveBytesOriginal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "archive",
			Name:      "bytes_original_total",
			Help:      "Uncompressed bytes fed into archives.",
		}),
		ArchiveBytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "archive",
			Name:      "bytes_stored_total",
			Help:      "Compressed bytes written to archive storage.",
		}),
		RecordsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "archive",
			Name:      "records_archived_total",
			Help:      "Live audit records moved into archives.",
		}),
		RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartlogs",
			Subsystem: "archive",
			Name:      "records_deleted_total",
			Help:      "Live audit records purged by retention or secure deletion.",
		}),
	}

	reg.MustRegister(
		s.DeliveriesTotal,
		s.DeliveriesDenied,
		s.DLQEventsTotal,
		s.DLQQueueSize,
		s.DLQAlertsFired,
		s.ArchivesCreated,
		s.ArchiveBytesOriginal,
		s.ArchiveBytesStored,
		s.RecordsArchived,
		s.RecordsDeleted,
	)
	return s
}
