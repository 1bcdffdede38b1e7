package events

import (
	"context"
	"encoding/json"
	"testing"

	"brickshop/internal/config"
	"brickshop/internal/gateway"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerStub struct {
	msgs   []kafka.Message
	closed bool
}

func (w *writerStub) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *writerStub) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_PublishOrderEvent(t *testing.T) {
	w := &writerStub{}
	p := &KafkaPublisher{writer: w}

	err := p.PublishOrderEvent(context.Background(), gateway.OrderEvent{
		Type:    gateway.OrderEventPaid,
		OrderID: 42,
		UserID:  7,
		Status:  "processing",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.Equal(t, gateway.OrderEventPaid, string(w.msgs[0].Headers[0].Value))

	var ev gateway.OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, int64(42), ev.OrderID)
	assert.False(t, ev.OccurredAt.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNew_NoBrokersIsNoop(t *testing.T) {
	p := New(config.KafkaConfig{})
	_, ok := p.(NoopPublisher)
	assert.True(t, ok)
	assert.NoError(t, p.PublishOrderEvent(context.Background(), gateway.OrderEvent{}))

	_, ok = New(config.KafkaConfig{Brokers: []string{"localhost:9092"}, OrderTopic: "t"}).(*KafkaPublisher)
	assert.True(t, ok)
}
