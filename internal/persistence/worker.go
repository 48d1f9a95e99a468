package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"margincore/internal/core"
	"margincore/internal/ingestion"
	"margincore/internal/instruction"
	"margincore/internal/observability"
)

// Worker drains the persist channel and batch-writes the operation log. The
// core sends to this channel blocking, so when the worker falls behind the
// core stalls instead of losing operations. Outbound publishing happens here
// after the write landed.
type Worker struct {
	db           *sql.DB
	writer       *OperationLogWriter
	inputChan    <-chan core.Output
	publishChan  chan<- ingestion.PublishableEvent
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	publishChan chan<- ingestion.PublishableEvent,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewOperationLogWriter(db),
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]core.Output, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}
			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch; on shutdown it makes one last attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []core.Output) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("batch", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []core.Output) error {
	start := time.Now()

	rows := make([]OperationRow, 0, len(batch))
	for _, out := range batch {
		row, err := operationRow(out)
		if err != nil {
			// Encoding is deterministic; a failure here is a bug, not a
			// transient condition. Skip the row rather than wedge the log.
			w.log.Error().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("operation row encode failed")
			continue
		}
		rows = append(rows, row)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOperationBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_operations").Inc()
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistOpsWritten.Add(float64(len(rows)))
		if len(rows) > 0 {
			w.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
		}
	}

	// Publish only after the write landed. The publish channel is lossy;
	// downstream can always read the operation log.
	if w.publishChan != nil {
		for _, out := range batch {
			select {
			case w.publishChan <- ingestion.Publishable(out):
			default:
				if w.metrics != nil {
					w.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	return nil
}

func operationRow(out core.Output) (OperationRow, error) {
	payload, err := instruction.Encode(out.Instr)
	if err != nil {
		return OperationRow{}, fmt.Errorf("encode instruction: %w", err)
	}
	env := out.Envelope
	return OperationRow{
		Sequence:       env.Sequence,
		Kind:           env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		TimestampUs:    env.TimestampUs,
		SourceSequence: env.SourceSequence,
	}, nil
}
