package machine

import (
	"sync"
	"time"

	"machinehub/internal/board"
)

// State is the per-session partition. Connectors write to it through the
// Binding they receive; everyone else reads copies via Snapshot.
type State struct {
	mu              sync.RWMutex
	endpoint        string
	connector       string
	board           board.Board
	firmwareName    string
	firmwareVersion string
	model           map[string]any
	revision        uint64
	updatedAt       time.Time
	clock           Clock
}

type StateSnapshot struct {
	Endpoint        string         `json:"endpoint"`
	Connector       string         `json:"connector,omitempty"`
	Board           board.Board    `json:"board"`
	FirmwareName    string         `json:"firmwareName,omitempty"`
	FirmwareVersion string         `json:"firmwareVersion,omitempty"`
	Model           map[string]any `json:"model,omitempty"`
	Revision        uint64         `json:"revision"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func NewState(endpoint string) *State {
	return newState(endpoint, realClock{})
}

func newState(endpoint string, clock Clock) *State {
	if clock == nil {
		clock = realClock{}
	}
	return &State{
		endpoint:  endpoint,
		board:     board.Lookup(""),
		model:     map[string]any{},
		updatedAt: clock.Now(),
		clock:     clock,
	}
}

func (s *State) Endpoint() string {
	return s.endpoint
}

func (s *State) SetConnector(kind string) {
	s.mutate(func() { s.connector = kind })
}

// SetBoard resolves boardType through the board table.
func (s *State) SetBoard(boardType string) {
	entry := board.Lookup(boardType)
	s.mutate(func() { s.board = entry })
}

func (s *State) SetFirmware(name, version string) {
	s.mutate(func() {
		s.firmwareName = name
		s.firmwareVersion = version
	})
}

// Patch merges values into the model. Nested maps merge recursively and a nil
// value deletes the key.
func (s *State) Patch(values map[string]any) {
	if len(values) == 0 {
		return
	}
	s.mutate(func() { mergeModel(s.model, values) })
}

// Replace swaps the whole model.
func (s *State) Replace(model map[string]any) {
	copied := cloneModel(model)
	if copied == nil {
		copied = map[string]any{}
	}
	s.mutate(func() { s.model = copied })
}

func (s *State) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Endpoint:        s.endpoint,
		Connector:       s.connector,
		Board:           s.board,
		FirmwareName:    s.firmwareName,
		FirmwareVersion: s.firmwareVersion,
		Model:           cloneModel(s.model),
		Revision:        s.revision,
		UpdatedAt:       s.updatedAt,
	}
}

func (s *State) mutate(apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply()
	s.revision++
	s.updatedAt = s.clock.Now()
}

func mergeModel(target, patch map[string]any) {
	for key, value := range patch {
		if value == nil {
			delete(target, key)
			continue
		}
		incoming, isMap := value.(map[string]any)
		existing, hadMap := target[key].(map[string]any)
		if isMap && hadMap {
			mergeModel(existing, incoming)
			continue
		}
		target[key] = cloneValue(value)
	}
}

func cloneModel(model map[string]any) map[string]any {
	if model == nil {
		return nil
	}
	copied := make(map[string]any, len(model))
	for key, value := range model {
		copied[key] = cloneValue(value)
	}
	return copied
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneModel(typed)
	case []any:
		copied := make([]any, len(typed))
		for idx, item := range typed {
			copied[idx] = cloneValue(item)
		}
		return copied
	default:
		return value
	}
}
