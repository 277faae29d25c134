package kafka_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/congrega/flows/pkg/channels/kafka"
	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	logger := watermill.NewSlogLogger(slog.New(slog.DiscardHandler))

	for _, brokers := range [][]string{nil, {""}} {
		_, _, err := kafka.CreateChannel(logger, brokers, "flows-test")
		assert.ErrorIs(t, err, kafka.ErrNoBrokers)
	}
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage(watermill.NewULID(), []byte(`{}`))
	msg.Metadata.Set(events.EventMetadataKey, "exec-1")

	key, err := kafka.PartitionKey("flows.lifecycle", msg)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", key)
}

func TestCreateChannel_DeliversDomainEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := kafkacontainer.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafkacontainer.WithClusterID("flows-test"),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, "flows-test")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.DomainEvent, 1)

	require.NoError(t, bus.Handle(events.PaymentReceivedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.DomainEvent)

		return nil
	}))

	sent := events.NewDomainEvent(events.PaymentReceivedEvent, models.Scope{TenantID: "t1"}, "rec-1",
		map[string]any{"amount": 25.0})
	require.NoError(t, bus.Publish(ctx, "rec-1", sent))
	require.NoError(t, bus.Subscribe(ctx))

	select {
	case event := <-received:
		assert.Equal(t, sent.ID, event.ID)
		assert.Equal(t, "t1", event.TenantID)
		assert.InDelta(t, 25.0, event.Payload["amount"], 0.001)
	case <-ctx.Done():
		t.Fatal("domain event was not delivered")
	}
}
