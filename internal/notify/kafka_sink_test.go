package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByEndpoint(t *testing.T) {
	writer := &fakeWriter{}
	sink := newKafkaSink(writer)

	occurred := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := sink.Emit(context.Background(), Event{
		Level:      "warn",
		Message:    "connection lost",
		Fields:     map[string]string{FieldEndpoint: "10.0.0.5"},
		OccurredAt: occurred,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	message := writer.messages[0]
	require.Equal(t, "10.0.0.5", string(message.Key))
	require.Equal(t, occurred, message.Time)
	require.Equal(t, "warning", string(message.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(message.Value, &decoded))
	require.Equal(t, "connection lost", decoded.Message)
	require.Equal(t, "10.0.0.5", decoded.Endpoint())
}

func TestKafkaSinkWrapsWriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	sink := newKafkaSink(writer)

	err := sink.Emit(context.Background(), Event{Level: LevelError, Message: "x"})
	require.ErrorContains(t, err, "broker unavailable")

	require.NoError(t, sink.Close())
	require.True(t, writer.closed)
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(nil, "topic")
	require.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	require.Error(t, err)
}
