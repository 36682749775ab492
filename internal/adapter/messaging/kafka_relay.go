// Package messaging forwards bus events to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
)

var ErrRelayFull = errors.New("relay buffer full")

// MessageWriter is the part of *kafka.Writer the relay uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Relay is a bus handler that never blocks the publisher: Handle only
// encodes and enqueues, Run writes to Kafka. Events are keyed by entity
// id so one entity's changes stay in one partition.
type Relay[T any] struct {
	writer MessageWriter
	queue  chan kafka.Message
	logger *zap.Logger
}

var _ eventbus.Handler[domain.Order] = (*Relay[domain.Order])(nil)

func NewRelay[T any](writer MessageWriter, buffer int, logger *zap.Logger) *Relay[T] {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay[T]{
		writer: writer,
		queue:  make(chan kafka.Message, buffer),
		logger: logger.Named("kafka_relay"),
	}
}

func (r *Relay[T]) Handle(_ context.Context, ev domain.ChangeEvent[T]) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.EntityID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(ev.Kind)},
			{Key: "entity", Value: []byte(ev.Entity)},
		},
	}
	select {
	case r.queue <- msg:
		return nil
	default:
		return ErrRelayFull
	}
}

// Pending returns the number of queued messages.
func (r *Relay[T]) Pending() int { return len(r.queue) }

// Run writes queued messages until ctx is done, then flushes what is
// left with a short grace period and closes the writer.
func (r *Relay[T]) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-r.queue:
			r.write(ctx, r.batch(msg))
		case <-ctx.Done():
			return r.drain()
		}
	}
}

func (r *Relay[T]) batch(first kafka.Message) []kafka.Message {
	msgs := []kafka.Message{first}
	for len(msgs) < 100 {
		select {
		case msg := <-r.queue:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
	return msgs
}

func (r *Relay[T]) write(ctx context.Context, msgs []kafka.Message) {
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.logger.Error("failed to write events", zap.Int("count", len(msgs)), zap.Error(err))
		return
	}
	r.logger.Debug("events written", zap.Int("count", len(msgs)))
}

func (r *Relay[T]) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-r.queue:
			r.write(ctx, r.batch(msg))
		default:
			return r.writer.Close()
		}
	}
}
