package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink exports notifications as JSON messages keyed by endpoint so all
// events for one machine land on the same partition.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
	}
	return newKafkaSink(writer), nil
}

func newKafkaSink(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer, timeout: 5 * time.Second}
}

func (sink *KafkaSink) Emit(ctx context.Context, event Event) error {
	if sink == nil || sink.writer == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, sink.timeout)
	defer cancel()
	message := kafka.Message{
		Key:   []byte(event.Endpoint()),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "level", Value: []byte(NormalizeLevel(event.Level))},
		},
	}
	if err := sink.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (sink *KafkaSink) Close() error {
	if sink == nil || sink.writer == nil {
		return nil
	}
	return sink.writer.Close()
}
