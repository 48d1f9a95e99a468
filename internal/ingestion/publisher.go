package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"margincore/internal/core"
	"margincore/internal/observability"
	"margincore/internal/venue"
)

// PublishableEvent is a committed operation ready for outbound publishing.
// It is produced by the persistence worker after the write landed, so
// downstream consumers never see an operation that could disappear.
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	Kind           string              `json:"kind"`
	IdempotencyKey string              `json:"idempotency_key"`
	Partition      string              `json:"partition"`
	SourceSequence int64               `json:"source_sequence"`
	TimestampUs    int64               `json:"timestamp_us"`
	StateHash      string              `json:"state_hash"`
	PrevHash       string              `json:"prev_hash"`
	Settlements    []SettlementMessage `json:"settlements,omitempty"`
}

// SettlementMessage instructs the custody bridge to move real tokens.
type SettlementMessage struct {
	OperationSequence int64  `json:"operation_sequence"`
	Direction         string `json:"direction"`
	TokenIndex        uint16 `json:"token_index"`
	Vault             string `json:"vault"`
	TokenAccount      string `json:"token_account"`
	Authority         string `json:"authority"`
	AmountNative      uint64 `json:"amount_native"`
}

// Publishable converts a core output into its outbound form.
func Publishable(out core.Output) PublishableEvent {
	evt := PublishableEvent{
		Sequence:       out.Envelope.Sequence,
		Kind:           out.Envelope.Kind.String(),
		IdempotencyKey: out.Envelope.IdempotencyKey,
		Partition:      out.Envelope.Partition,
		SourceSequence: out.Envelope.SourceSequence,
		TimestampUs:    out.Envelope.TimestampUs,
		StateHash:      hex.EncodeToString(out.Envelope.StateHash[:]),
		PrevHash:       hex.EncodeToString(out.Envelope.PrevHash[:]),
	}
	for _, s := range out.Settlements {
		direction := "into_vault"
		if s.Direction == venue.TransferOutOfVault {
			direction = "out_of_vault"
		}
		evt.Settlements = append(evt.Settlements, SettlementMessage{
			OperationSequence: s.OperationSequence,
			Direction:         direction,
			TokenIndex:        uint16(s.TokenIndex),
			Vault:             s.Vault.String(),
			TokenAccount:      s.TokenAccount.String(),
			Authority:         s.Authority.String(),
			AmountNative:      s.AmountNative,
		})
	}
	return evt
}

// OutboundPublisher publishes committed operations and their settlements.
// Subjects: margin.ledger.committed.{kind} and margin.ledger.settlements.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, metrics: metrics, log: log}
}

// Run starts the publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can always read the operation log.
				op.log.Warn().Int64("sequence", evt.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("margin.ledger.committed.%s", evt.Kind)
	if _, err := op.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	for _, s := range evt.Settlements {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal settlement: %w", err)
		}
		subject := fmt.Sprintf("margin.ledger.settlements.%s", s.Direction)
		if _, err := op.js.Publish(ctx, subject, payload); err != nil {
			return err
		}
	}
	return nil
}

// EnsureOutboundStream creates the outbound stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARGIN_LEDGER_EVENTS",
		Subjects:  []string{"margin.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
