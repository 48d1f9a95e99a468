package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"margincore/internal/core"
	"margincore/internal/instruction"
	"margincore/internal/observability"
)

// Processor is the single entry point into the deterministic core.
type Processor interface {
	Process(ctx context.Context, ins instruction.Instruction) error
}

// ParseRaw decodes one raw NATS message into a typed instruction using the
// kind its subject mapped to.
func ParseRaw(raw RawMessage) (instruction.Instruction, error) {
	return instruction.DecodeKind(raw.Kind, raw.Data)
}

// Pump drains the raw-message channel, decodes and hands instructions to the
// core one at a time, then acknowledges based on the outcome:
//
//   - committed or duplicate: Ack
//   - malformed payload or ordering violation: Term, redelivery cannot help
//   - deterministic rejection (health, funds, validation): Ack, the outcome
//     is final and was counted; redelivering would just be rejected again
//
// The pump goroutine is the only caller of Process, which keeps the core
// single-threaded.
type Pump struct {
	core    Processor
	rawChan <-chan RawMessage
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPump(p Processor, rawChan <-chan RawMessage, metrics *observability.Metrics, log zerolog.Logger) *Pump {
	return &Pump{core: p, rawChan: rawChan, metrics: metrics, log: log}
}

// Run blocks until ctx is cancelled or the channel closes.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.rawChan:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pump) handle(ctx context.Context, raw RawMessage) {
	ins, err := ParseRaw(raw)
	if err != nil {
		p.log.Warn().Str("subject", raw.Subject).Err(err).Msg("malformed instruction terminated")
		raw.Term()
		return
	}

	err = p.core.Process(ctx, ins)
	switch {
	case err == nil:
		raw.Ack()
		if p.metrics != nil {
			p.metrics.IngestToApply.WithLabelValues(raw.Kind).
				Observe(time.Since(raw.ReceivedAt).Seconds())
		}
	case errors.Is(err, core.ErrOutOfOrder):
		raw.Term()
	default:
		// Deterministic rejection; already logged and counted by the core.
		raw.Ack()
	}
}
