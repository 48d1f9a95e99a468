package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to the JetStream instruction subjects and feeds
// raw messages into the pump channel. NATS is the primary ingestion surface;
// each subject family maps to one instruction kind so streams scale
// independently.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawMessage is an undecoded instruction straight off NATS, with the
// acknowledgement hooks the pump calls after the core has spoken.
type RawMessage struct {
	Subject    string
	Kind       string
	Data       []byte
	ReceivedAt time.Time

	Ack  func()
	Nak  func()
	Term func() // poison messages: no redelivery
}

// SubjectConfig maps one NATS subject to an instruction kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "margin.deposits.>", Kind: "TokenDeposit", ConsumerName: "margin-deposits", StreamName: "MARGIN_DEPOSITS"},
		{Subject: "margin.withdrawals.>", Kind: "TokenWithdraw", ConsumerName: "margin-withdrawals", StreamName: "MARGIN_WITHDRAWALS"},
		{Subject: "margin.orders.>", Kind: "PlaceOrder", ConsumerName: "margin-orders", StreamName: "MARGIN_ORDERS"},
		{Subject: "margin.prices.>", Kind: "PriceUpdate", ConsumerName: "margin-prices", StreamName: "MARGIN_PRICES"},
		{Subject: "margin.admin.accounts.>", Kind: "CreateAccount", ConsumerName: "margin-admin-accounts", StreamName: "MARGIN_ADMIN"},
		{Subject: "margin.admin.tokens.>", Kind: "RegisterToken", ConsumerName: "margin-admin-tokens", StreamName: "MARGIN_ADMIN"},
		{Subject: "margin.admin.indexes.>", Kind: "UpdateIndexes", ConsumerName: "margin-admin-indexes", StreamName: "MARGIN_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawMessage, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, rawChan: rawChan, log: log}
}

// Subscribe creates durable JetStream consumers for every configured subject.
// Consumers use explicit ACK with bounded redelivery.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:    msg.Subject(),
				Kind:       cfg.Kind,
				Data:       msg.Data(),
				ReceivedAt: time.Now(),
				Ack:        func() { _ = msg.Ack() },
				Nak:        func() { _ = msg.Nak() },
				Term:       func() { _ = msg.Term() },
			}
			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureStreams creates the inbound JetStream streams if they do not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: "MARGIN_DEPOSITS", Subjects: []string{"margin.deposits.>"}},
		{Name: "MARGIN_WITHDRAWALS", Subjects: []string{"margin.withdrawals.>"}},
		{Name: "MARGIN_ORDERS", Subjects: []string{"margin.orders.>"}},
		{Name: "MARGIN_PRICES", Subjects: []string{"margin.prices.>"}},
		{Name: "MARGIN_ADMIN", Subjects: []string{"margin.admin.>"}},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Stop drains all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
