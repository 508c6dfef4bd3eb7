package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"stabilizer/internal/core"
	"stabilizer/internal/observability"
)

// EventStream is the JetStream stream for outbound vault events.
const EventStream = "STAB_EVENTS"

// OutboundPublisher publishes applied vault events to NATS for downstream
// consumers (risk dashboards, balancers, settlement jobs). Subjects follow
// stab.events.{event_type}.{vault_id}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	log       zerolog.Logger
}

// publishedEvent is the outbound wire format.
type publishedEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	VaultID        string          `json:"vault_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("publisher"),
	}
}

// EnsureStream creates the outbound stream if needed.
func (op *OutboundPublisher) EnsureStream(ctx context.Context) error {
	_, err := op.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     EventStream,
		Subjects: []string{"stab.events.>"},
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", EventStream, err)
	}
	return nil
}

// Run drains the publish channel until ctx is cancelled or the channel closes.
// Publish failures are non-fatal: consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope
	msg := publishedEvent{
		Sequence:       env.Sequence,
		EventType:      env.Type.String(),
		VaultID:        env.VaultID.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		Timestamp:      env.Timestamp,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	subject := fmt.Sprintf("stab.events.%s.%s", strings.ToLower(env.Type.String()), env.VaultID)
	if _, err := op.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
