package machine

import "machinehub/internal/event"

// BusMirror publishes registry membership and selection changes as machine
// events.
type BusMirror struct {
	bus *event.Bus[event.Event]
}

func NewBusMirror(bus *event.Bus[event.Event]) *BusMirror {
	return &BusMirror{bus: bus}
}

func (m *BusMirror) AddEndpoint(id string) {
	m.bus.Publish(event.NewMachineEvent(event.MachineAdded, id))
}

func (m *BusMirror) RemoveEndpoint(id string) {
	m.bus.Publish(event.NewMachineEvent(event.MachineRemoved, id))
}

func (m *BusMirror) SelectionChanged(previous, current string) {
	m.bus.Publish(event.NewSelectionEvent(previous, current))
}
