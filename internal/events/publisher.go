// Package events publishes pipeline run lifecycle events to Kafka so that
// downstream systems (notification, billing, analytics) can react to claim,
// completion, cancellation, retry and reap transitions without polling the
// control plane.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nextlayerdevops/runctl/internal/runs"
)

const (
	// DefaultTopic is the topic lifecycle events are published to when no
	// override is configured.
	DefaultTopic = "pipeline-run-lifecycle"

	writeTimeout = 5 * time.Second
)

// wireEvent is the on-the-wire JSON shape published to Kafka. Field names
// are stable; downstream consumers depend on them.
type wireEvent struct {
	Kind              string    `json:"kind"`
	RunID             string    `json:"run_id"`
	TenantID          string    `json:"tenant_id"`
	PipelineVersionID string    `json:"pipeline_version_id"`
	Status            string    `json:"status"`
	ClaimedBy         string    `json:"claimed_by,omitempty"`
	RetryOfRunID      string    `json:"retry_of_run_id,omitempty"`
	RootRunID         string    `json:"root_run_id,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	EmittedAt         time.Time `json:"emitted_at"`
}

// KafkaPublisher implements runs.Publisher over a Kafka topic using
// segmentio/kafka-go. One writer is shared across all publish calls; writes
// are partitioned by run id so that events for a single run are delivered
// in order to the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ runs.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to topic across brokers.
// Required acks=1 balances durability against latency for a lifecycle
// signal that downstream systems treat as best-effort, not authoritative.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: writeTimeout,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one lifecycle event, keyed by run id.
func (p *KafkaPublisher) Publish(ctx context.Context, event runs.LifecycleEvent) error {
	if event.Run == nil {
		return fmt.Errorf("events: nil run in lifecycle event %q", event.Kind)
	}

	payload, err := json.Marshal(toWireEvent(event))
	if err != nil {
		return fmt.Errorf("events: marshal lifecycle event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Run.ID),
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish lifecycle event",
			slog.String("kind", event.Kind),
			slog.String("run_id", event.Run.ID),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("events: publish %q for run %s: %w", event.Kind, event.Run.ID, err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: close writer: %w", err)
	}

	return nil
}

func toWireEvent(event runs.LifecycleEvent) wireEvent {
	run := event.Run

	return wireEvent{
		Kind:              event.Kind,
		RunID:             run.ID,
		TenantID:          run.TenantID,
		PipelineVersionID: run.PipelineVersionID,
		Status:            string(run.Status),
		ClaimedBy:         run.ClaimedBy,
		RetryOfRunID:      run.RetryOfRunID,
		RootRunID:         run.RootRunID,
		ErrorMessage:      run.ErrorMessage,
		EmittedAt:         time.Now(),
	}
}

// NoopPublisher discards every event. Used when RUNCTL_KAFKA_BROKERS is
// unset so the control plane can run without a broker in local development.
type NoopPublisher struct{}

var _ runs.Publisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, runs.LifecycleEvent) error { return nil }
func (NoopPublisher) Close() error                                      { return nil }
