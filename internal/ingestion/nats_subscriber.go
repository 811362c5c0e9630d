// Package ingestion is the non-deterministic shell in front of the core:
// it receives raw commands from NATS JetStream, parses and validates them,
// and publishes applied envelopes back out for downstream consumers.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw commands
// into the shell's parse loop. JetStream is the primary high-throughput
// ingestion surface; each command type has its own subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawCommand is a received-but-untyped command, ready for the shell to
// parse into a typed event.Command before sending to the core.
type RawCommand struct {
	Subject     string
	CommandName string
	Data        []byte
	Received    time.Time
	AckFunc     func() // ACK after the command clears the core's input channel
	NakFunc     func() // NAK on failure so JetStream redelivers
}

// SubjectConfig maps one NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandName  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Loan, auction,
// surplus, reward, and token provisioning commands each get their own
// stream so consumers scale independently; the gauge feed is a separate
// stream because its ordering rules differ (gaps tolerated, stale
// skipped).
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "credit.loans.borrow.>", CommandName: "Borrow", ConsumerName: "ledger-borrow", StreamName: "CREDIT_LOANS"},
		{Subject: "credit.loans.collateral.>", CommandName: "AddCollateral", ConsumerName: "ledger-add-collateral", StreamName: "CREDIT_LOANS"},
		{Subject: "credit.loans.partial_repay.>", CommandName: "PartialRepay", ConsumerName: "ledger-partial-repay", StreamName: "CREDIT_LOANS"},
		{Subject: "credit.loans.repay.>", CommandName: "Repay", ConsumerName: "ledger-repay", StreamName: "CREDIT_LOANS"},
		{Subject: "credit.loans.forgive.>", CommandName: "ForgiveLoan", ConsumerName: "ledger-forgive-loan", StreamName: "CREDIT_LOANS"},
		{Subject: "credit.auctions.call.>", CommandName: "Call", ConsumerName: "ledger-call", StreamName: "CREDIT_AUCTIONS"},
		{Subject: "credit.auctions.bid.>", CommandName: "Bid", ConsumerName: "ledger-bid", StreamName: "CREDIT_AUCTIONS"},
		{Subject: "credit.auctions.forgive.>", CommandName: "ForgiveAuction", ConsumerName: "ledger-forgive-auction", StreamName: "CREDIT_AUCTIONS"},
		{Subject: "credit.surplus.donate.>", CommandName: "DonateSurplus", ConsumerName: "ledger-donate", StreamName: "CREDIT_SURPLUS"},
		{Subject: "credit.surplus.withdraw.>", CommandName: "WithdrawSurplus", ConsumerName: "ledger-withdraw", StreamName: "CREDIT_SURPLUS"},
		{Subject: "credit.rewards.claim.>", CommandName: "ClaimRewards", ConsumerName: "ledger-claim", StreamName: "CREDIT_REWARDS"},
		{Subject: "credit.gauges.weight.>", CommandName: "GaugeWeightUpdate", ConsumerName: "ledger-gauge-weight", StreamName: "CREDIT_GAUGES"},
		{Subject: "credit.gauges.stake.>", CommandName: "GaugeStakeUpdate", ConsumerName: "ledger-gauge-stake", StreamName: "CREDIT_GAUGES"},
		{Subject: "credit.tokens.mint_collateral.>", CommandName: "MintCollateral", ConsumerName: "ledger-mint-collateral", StreamName: "CREDIT_TOKENS"},
		{Subject: "credit.tokens.mint_credit.>", CommandName: "MintCredit", ConsumerName: "ledger-mint-credit", StreamName: "CREDIT_TOKENS"},
		{Subject: "credit.tokens.approve_collateral.>", CommandName: "ApproveCollateral", ConsumerName: "ledger-approve-collateral", StreamName: "CREDIT_TOKENS"},
		{Subject: "credit.tokens.approve_credit.>", CommandName: "ApproveCredit", ConsumerName: "ledger-approve-credit", StreamName: "CREDIT_TOKENS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     log.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
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

		commandName := cfg.CommandName
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:     msg.Subject(),
				CommandName: commandName,
				Data:        msg.Data(),
				Received:    time.Now(),
				AckFunc:     func() { msg.Ack() },
				NakFunc:     func() { msg.Nak() },
			}

			select {
			case ns.rawChan <- raw:
				// Queued for parsing; ACK happens after the core accepts it.
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "CREDIT_LOANS",
			Subjects:  []string{"credit.loans.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CREDIT_AUCTIONS",
			Subjects:  []string{"credit.auctions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CREDIT_SURPLUS",
			Subjects:  []string{"credit.surplus.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CREDIT_REWARDS",
			Subjects:  []string{"credit.rewards.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CREDIT_GAUGES",
			Subjects:  []string{"credit.gauges.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CREDIT_TOKENS",
			Subjects:  []string{"credit.tokens.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
