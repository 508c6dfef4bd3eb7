package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"stabilizer/internal/observability"
)

// RawCommand is a command payload pulled off NATS, not yet parsed.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the engine accepted (or rejected) the command
	NakFunc   func() // NAK on transient failure, message is redelivered
}

// CommandStream is the JetStream stream holding inbound vault commands.
const CommandStream = "STAB_CMDS"

// CommandSubject is the wildcard subject the subscriber consumes.
// Producers publish to stab.cmd.{op}, e.g. stab.cmd.borrow.
const CommandSubject = "stab.cmd.>"

// NATSSubscriber consumes vault commands from JetStream and feeds them into
// the engine loop via cmdChan.
type NATSSubscriber struct {
	js       jetstream.JetStream
	cmdChan  chan<- RawCommand
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		cmdChan: cmdChan,
		log:     observability.NewLogger("nats-subscriber"),
	}
}

// EnsureStream creates the command stream if it does not exist.
func (ns *NATSSubscriber) EnsureStream(ctx context.Context) error {
	_, err := ns.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", CommandStream, err)
	}
	return nil
}

// Subscribe creates a durable consumer with explicit ACK and starts feeding
// cmdChan. Consumers use max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       "stabilizer-commands",
		FilterSubject: CommandSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}
		select {
		case ns.cmdChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	ns.consumer = cc
	ns.log.Info().Str("subject", CommandSubject).Msg("command subscriber started")
	return nil
}

// Stop drains the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
}
