package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"machinehub/internal/event"
	"machinehub/internal/logging"
)

func TestMultiJoinsErrors(t *testing.T) {
	first := NewMemorySink()
	second := NewMemorySink()
	second.SetError(errors.New("down"))

	err := Multi{first, nil, second}.Emit(context.Background(), Event{Level: LevelInfo, Message: "hello"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Fatal("expected both sinks to receive the event")
	}
}

func TestMemorySinkByLevel(t *testing.T) {
	sink := NewMemorySink()
	_ = sink.Emit(context.Background(), Event{Level: LevelSuccess, Message: "a"})
	_ = sink.Emit(context.Background(), Event{Level: LevelWarning, Message: "b"})

	warnings := sink.ByLevel(LevelWarning)
	if len(warnings) != 1 || warnings[0].Message != "b" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatal("expected reset to clear events")
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := map[string]string{
		"warn":    LevelWarning,
		"ERROR":   LevelError,
		"success": LevelSuccess,
		"":        LevelInfo,
		"other":   LevelInfo,
	}
	for raw, want := range cases {
		if got := NormalizeLevel(raw); got != want {
			t.Fatalf("NormalizeLevel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestLoggerSinkMapsLevels(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	sink := NewLoggerSink(logging.NewLoggerWithOutput(buffer, logging.LevelDebug, io.Discard))

	_ = sink.Emit(context.Background(), Event{
		Level:   LevelWarning,
		Message: "teardown failed",
		Fields:  map[string]string{FieldEndpoint: "printer.local"},
	})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != logging.LevelWarning {
		t.Fatalf("expected warning, got %q", entries[0].Level)
	}
	if entries[0].Endpoint() != "printer.local" || entries[0].Context[logging.FieldCategory] != "notification" {
		t.Fatalf("unexpected context %v", entries[0].Context)
	}
}

func TestBusSinkPublishesNotification(t *testing.T) {
	bus := event.NewBus[event.Event](context.Background(), event.BusOptions{HistorySize: 4})
	t.Cleanup(bus.Close)

	sink := NewBusSink(bus)
	if err := sink.Emit(context.Background(), Event{Level: LevelSuccess, Message: "connected"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	history := bus.History(0)
	if len(history) != 1 {
		t.Fatalf("expected 1 event, got %d", len(history))
	}
	notification, ok := history[0].(event.NotificationEvent)
	if !ok {
		t.Fatalf("expected notification event, got %T", history[0])
	}
	if notification.Level != LevelSuccess || notification.Timestamp().IsZero() {
		t.Fatalf("unexpected notification %+v", notification)
	}
}
