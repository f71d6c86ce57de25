package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	LevelSuccess = "success"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// FieldEndpoint keys the machine an event is about.
const FieldEndpoint = "machine.endpoint"

type Event struct {
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
}

// Endpoint returns the machine endpoint attached to the event, if any.
func (e Event) Endpoint() string {
	return e.Fields[FieldEndpoint]
}

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// NormalizeLevel maps aliases onto the four notification levels.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelSuccess:
		return LevelSuccess
	case LevelWarning, "warn":
		return LevelWarning
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

type MemorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (sink *MemorySink) Emit(_ context.Context, event Event) error {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, event)
	return sink.err
}

func (sink *MemorySink) Events() []Event {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	events := make([]Event, len(sink.events))
	copy(events, sink.events)
	return events
}

// ByLevel returns the recorded events with the given level.
func (sink *MemorySink) ByLevel(level string) []Event {
	var matched []Event
	for _, event := range sink.Events() {
		if event.Level == level {
			matched = append(matched, event)
		}
	}
	return matched
}

func (sink *MemorySink) SetError(err error) {
	if sink == nil {
		return
	}
	sink.mu.Lock()
	sink.err = err
	sink.mu.Unlock()
}

func (sink *MemorySink) Reset() {
	if sink == nil {
		return
	}
	sink.mu.Lock()
	sink.events = nil
	sink.mu.Unlock()
}

// Multi delivers every event to each sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
