// Package events は注文イベントを Kafka に流す。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/gateway"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.OrderTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// 同じ注文のイベントは同じパーティションに入る（key=order_id）
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, ev gateway.OrderEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher は KAFKA_BROKERS 未設定時
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderEvent(context.Context, gateway.OrderEvent) error { return nil }
func (NoopPublisher) Close() error                                               { return nil }

func New(cfg config.KafkaConfig) gateway.EventPublisher {
	if len(cfg.Brokers) == 0 {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg)
}
