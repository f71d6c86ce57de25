package machine

import (
	"testing"
	"time"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func TestStatePatchMergesNestedMaps(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	state := newState("10.0.0.5", clock)

	state.Patch(map[string]any{
		"state": map[string]any{"status": "idle", "upTime": 12},
		"fans":  []any{map[string]any{"speed": 0.5}},
	})
	clock.now = clock.now.Add(time.Second)
	state.Patch(map[string]any{
		"state": map[string]any{"status": "printing"},
		"fans":  nil,
	})

	snapshot := state.Snapshot()
	nested := snapshot.Model["state"].(map[string]any)
	if nested["status"] != "printing" || nested["upTime"] != 12 {
		t.Fatalf("unexpected merged model %v", snapshot.Model)
	}
	if _, ok := snapshot.Model["fans"]; ok {
		t.Fatalf("expected nil patch to delete key, got %v", snapshot.Model)
	}
	if snapshot.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", snapshot.Revision)
	}
	if !snapshot.UpdatedAt.Equal(clock.now) {
		t.Fatalf("expected updated at %v, got %v", clock.now, snapshot.UpdatedAt)
	}
}

func TestStateSnapshotIsACopy(t *testing.T) {
	state := NewState("a")
	state.Replace(map[string]any{"heat": map[string]any{"bed": 60.0}})

	snapshot := state.Snapshot()
	snapshot.Model["heat"].(map[string]any)["bed"] = 0.0

	again := state.Snapshot()
	if again.Model["heat"].(map[string]any)["bed"] != 60.0 {
		t.Fatalf("expected snapshot mutation not to leak, got %v", again.Model)
	}
}

func TestStateBoardAndFirmware(t *testing.T) {
	state := NewState("a")
	if !state.Snapshot().Board.Generic() {
		t.Fatal("expected generic board before handshake")
	}
	state.SetBoard("duet3mb6hc")
	state.SetFirmware("RepRapFirmware", "3.5.1")
	state.SetConnector("poll")

	snapshot := state.Snapshot()
	if snapshot.Board.Type != "duet3mb6hc" || snapshot.FirmwareVersion != "3.5.1" || snapshot.Connector != "poll" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if state.Revision() != 3 {
		t.Fatalf("expected revision 3, got %d", state.Revision())
	}
}
