//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/nextlayerdevops/runctl/internal/events"
	"github.com/nextlayerdevops/runctl/internal/runs"
)

func TestKafkaPublisher_PublishDeliversToTopic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.6.0", kafka.WithClusterID("runctl-test"))
	require.NoError(t, err, "failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	publisher := events.NewKafkaPublisher(brokers, "pipeline-run-lifecycle-test", testLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	run := &runs.Run{
		ID:                "run-1",
		TenantID:          "tenant-1",
		PipelineVersionID: "pv-1",
		Status:            runs.StatusRunning,
		ClaimedBy:         "worker-1",
	}

	require.NoError(t, publisher.Publish(ctx, runs.LifecycleEvent{Kind: "claimed", Run: run}))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   brokers,
		Topic:     "pipeline-run-lifecycle-test",
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, "run-1", string(msg.Key))
	require.Contains(t, string(msg.Value), "claimed")
}
