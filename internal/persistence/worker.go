package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"stabilizer/internal/core"
	"stabilizer/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The engine
// sends on this channel BLOCKING: if the worker falls behind, the engine
// stalls instead of losing an event.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run batches incoming events and flushes when the batch fills or the flush
// timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.Background(), batch)
				}
				return nil
			}
			batch = append(batch, toRow(out))
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) {
	if err := w.writer.WriteEventBatch(ctx, batch); err != nil {
		// The event stays in the engine's outbound path only; a write
		// failure here is surfaced loudly for operator intervention.
		w.log.Error().Int("batch", len(batch)).Err(err).Msg("event batch write failed")
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return
	}
	last := batch[len(batch)-1].Sequence
	if w.metrics != nil {
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(last))
	}
	w.log.Debug().Int("batch", len(batch)).Int64("last_sequence", last).Msg("batch flushed")
}

func toRow(out core.Output) EventRow {
	env := out.Envelope
	return EventRow{
		Sequence:       env.Sequence,
		VaultID:        env.VaultID.String(),
		EventType:      env.Type.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}
