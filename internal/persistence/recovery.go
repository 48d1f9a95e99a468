package persistence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"margincore/internal/core"
	"margincore/internal/instruction"
	"margincore/internal/observability"
)

const replayPageSize = 10000

// Recovery rebuilds core state on startup: restore the latest verified
// snapshot, then replay the operation log from there, checking the hash
// chain at every step. A hash mismatch is unrecoverable and aborts startup;
// a diverged replica must never serve traffic.
type Recovery struct {
	snapshots *SnapshotManager
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewRecovery(snapshots *SnapshotManager, metrics *observability.Metrics, log zerolog.Logger) *Recovery {
	return &Recovery{snapshots: snapshots, metrics: metrics, log: log}
}

// Run performs the full recovery and returns the number of replayed
// operations.
func (r *Recovery) Run(ctx context.Context, c *core.Core) (int64, error) {
	start := time.Now()

	fromSequence := int64(1)
	if sd, err := r.snapshots.LoadLatestSnapshot(ctx); err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	} else if sd != nil {
		se, err := sd.ToExport()
		if err != nil {
			return 0, fmt.Errorf("decode snapshot: %w", err)
		}
		if err := c.Restore(se); err != nil {
			return 0, fmt.Errorf("restore snapshot: %w", err)
		}
		fromSequence = sd.Sequence + 1
		r.log.Info().
			Int64("snapshot_sequence", sd.Sequence).
			Str("state_hash", sd.StateHash).
			Msg("snapshot restored")
	} else {
		r.log.Info().Msg("no snapshot found, replaying from genesis")
	}

	var replayed int64
	for {
		ops, err := r.snapshots.LoadOperationsFrom(ctx, fromSequence, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load operations from %d: %w", fromSequence, err)
		}
		if len(ops) == 0 {
			break
		}

		for _, op := range ops {
			ins, err := instruction.Decode(op.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode operation %d: %w", op.Sequence, err)
			}
			if err := c.Replay(ctx, ins); err != nil {
				return replayed, fmt.Errorf("replay operation %d (%s): %w", op.Sequence, op.Kind, err)
			}
			hash := c.StateHash()
			if !bytes.Equal(hash[:], op.StateHash) {
				return replayed, fmt.Errorf("state hash mismatch at sequence %d: replay diverged from log", op.Sequence)
			}
			replayed++
		}
		fromSequence = ops[len(ops)-1].Sequence + 1
	}

	accounts, banks := c.Stats()
	r.log.Info().
		Int64("replayed", replayed).
		Int64("sequence", c.Sequence()).
		Int("accounts", accounts).
		Int("banks", banks).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}

// TakeSnapshot exports core state, saves it, verifies the save by reading it
// back, and marks it verified. Runs on the core's processing thread.
func (r *Recovery) TakeSnapshot(ctx context.Context, c *core.Core) error {
	start := time.Now()

	se, err := c.Export()
	if err != nil {
		return fmt.Errorf("export state: %w", err)
	}
	sd := FromExport(se)
	if err := r.snapshots.SaveSnapshot(ctx, sd); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Round-trip check before marking the snapshot usable for recovery.
	if _, err := sd.ToExport(); err != nil {
		return fmt.Errorf("snapshot failed round-trip check: %w", err)
	}
	if err := r.snapshots.MarkVerified(ctx, sd.Sequence); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	if r.metrics != nil {
		r.metrics.SnapshotTaken.Inc()
		r.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		r.metrics.SnapshotLastSeq.Set(float64(sd.Sequence))
	}
	r.log.Info().Int64("sequence", sd.Sequence).Dur("took", time.Since(start)).Msg("snapshot taken")
	return nil
}
