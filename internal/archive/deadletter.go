package archive

import (
	"context"
	"fmt"

	"github.com/smedrec/smart-logs/internal/dlq"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// deadLetterPolicy names the synthetic retention policy for quarantined
// events handed off by the DLQ aging pass.
const deadLetterPolicy = "dead-letter"

// DeadLetterSink adapts the engine to the DLQ archive handoff.
type DeadLetterSink struct {
	engine *Engine
}

// NewDeadLetterSink wraps an engine as a dlq.ArchiveSink.
func NewDeadLetterSink(engine *Engine) *DeadLetterSink {
	return &DeadLetterSink{engine: engine}
}

var _ dlq.ArchiveSink = (*DeadLetterSink)(nil)

// ArchiveDeadLetter archives the original event of an aged DLQ entry.
func (s *DeadLetterSink) ArchiveDeadLetter(ctx context.Context, ev *dlq.Event) error {
	rec := ev.OriginalEvent
	_, err := s.engine.Create(ctx, []audit.Record{rec}, CreateMetadata{
		RetentionPolicy:    deadLetterPolicy,
		DataClassification: rec.DataClassification,
		DateRange:          &DateRange{Start: rec.Timestamp, End: rec.Timestamp},
	})
	if err != nil {
		return fmt.Errorf("archive: dead-letter handoff for %s: %w", rec.ID, err)
	}
	return nil
}
