package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	MachineAdded    = "machine_added"
	MachineRemoved  = "machine_removed"
	MachineSelected = "machine_selected"

	NotificationType = "notification"
	ConfigReloaded   = "config_reloaded"
)

// MachineEvent reports a change to the set of sessions or to the selection.
// Previous is only set for machine_selected.
type MachineEvent struct {
	EventType  string    `json:"type"`
	Endpoint   string    `json:"endpoint"`
	Previous   string    `json:"previous,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func NewMachineEvent(eventType, endpoint string) MachineEvent {
	return MachineEvent{
		EventType:  eventType,
		Endpoint:   endpoint,
		OccurredAt: time.Now().UTC(),
	}
}

func NewSelectionEvent(previous, endpoint string) MachineEvent {
	event := NewMachineEvent(MachineSelected, endpoint)
	event.Previous = previous
	return event
}

func (e MachineEvent) Type() string {
	return e.EventType
}

func (e MachineEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func (e MachineEvent) Attributes() map[string]string {
	attrs := map[string]string{"machine.endpoint": e.Endpoint}
	if e.Previous != "" {
		attrs["machine.previous"] = e.Previous
	}
	return attrs
}

// NotificationEvent carries a user-facing notification to stream clients.
type NotificationEvent struct {
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
}

func (e NotificationEvent) Type() string {
	return NotificationType
}

func (e NotificationEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func (e NotificationEvent) Attributes() map[string]string {
	attrs := make(map[string]string, len(e.Fields)+1)
	for key, value := range e.Fields {
		attrs[key] = value
	}
	attrs["notification.level"] = e.Level
	return attrs
}

// ConfigEvent reports a settings reload.
type ConfigEvent struct {
	Path       string    `json:"path"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func NewConfigEvent(path string, err error) ConfigEvent {
	event := ConfigEvent{Path: path, OccurredAt: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func (e ConfigEvent) Type() string {
	return ConfigReloaded
}

func (e ConfigEvent) Timestamp() time.Time {
	return e.OccurredAt
}
