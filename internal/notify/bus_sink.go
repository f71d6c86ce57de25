package notify

import (
	"context"
	"time"

	"machinehub/internal/event"
)

// BusSink republishes notifications on an event bus for stream clients.
type BusSink struct {
	bus *event.Bus[event.Event]
}

func NewBusSink(bus *event.Bus[event.Event]) *BusSink {
	return &BusSink{bus: bus}
}

func (sink *BusSink) Emit(_ context.Context, notification Event) error {
	if sink == nil || sink.bus == nil {
		return nil
	}
	occurredAt := notification.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	sink.bus.Publish(event.NotificationEvent{
		Level:      notification.Level,
		Message:    notification.Message,
		Fields:     notification.Fields,
		OccurredAt: occurredAt,
	})
	return nil
}
