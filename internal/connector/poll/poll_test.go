package poll

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"machinehub/internal/connector"
	"machinehub/internal/machine"
)

type fakeBoard struct {
	mu           sync.Mutex
	password     string
	connectErr   int
	buff         int
	failStatus   atomic.Bool
	codes        []string
	sessionKeys  []string
	disconnected bool
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{password: "reprap", buff: 200}
}

func (b *fakeBoard) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rr_connect", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		code := b.connectErr
		if code == 0 && r.URL.Query().Get("password") != b.password {
			code = 1
		}
		writeJSON(w, map[string]any{
			"err":            code,
			"sessionTimeout": 8000,
			"boardType":      "duetwifi102",
			"sessionKey":     12345,
		})
	})
	mux.HandleFunc("/rr_config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"firmwareName": "RepRapFirmware", "firmwareVersion": "2.05"})
	})
	mux.HandleFunc("/rr_gcode", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.codes = append(b.codes, r.URL.Query().Get("gcode"))
		b.sessionKeys = append(b.sessionKeys, r.Header.Get("X-Session-Key"))
		writeJSON(w, map[string]any{"buff": b.buff})
	})
	mux.HandleFunc("/rr_reply", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/rr_status", func(w http.ResponseWriter, r *http.Request) {
		if b.failStatus.Load() {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"status": "I",
			"temps":  map[string]any{"bed": map[string]any{"current": 20.5}},
		})
	})
	mux.HandleFunc("/rr_disconnect", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.disconnected = true
		b.mu.Unlock()
		writeJSON(w, map[string]any{"err": 0})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestConnector() *Connector {
	return New(connector.Options{
		StatusInterval:    5 * time.Millisecond,
		RequestTimeout:    time.Second,
		MaxStatusFailures: 2,
	})
}

func TestConnectAndPollStatus(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	defer server.Close()

	handle, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	state := machine.NewState(server.URL)
	handle.Register(machine.Binding{State: state, Lost: func(error) {}})
	defer handle.Disconnect(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if state.Snapshot().Model["status"] == "I" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	snapshot := state.Snapshot()
	if snapshot.Model["status"] != "I" {
		t.Fatalf("expected polled status, got %v", snapshot.Model)
	}
	if snapshot.Board.Type != "duetwifi102" || snapshot.Connector != Kind {
		t.Fatalf("unexpected board %+v", snapshot)
	}
	if snapshot.FirmwareName != "RepRapFirmware" || snapshot.FirmwareVersion != "2.05" {
		t.Fatalf("unexpected firmware %+v", snapshot)
	}
}

func TestConnectErrors(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	defer server.Close()

	_, err := newTestConnector().Connect(context.Background(), server.URL, "", "wrong")
	if !errors.Is(err, connector.ErrBadPassword) {
		t.Fatalf("expected bad password, got %v", err)
	}

	board.connectErr = 2
	_, err = newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if !errors.Is(err, connector.ErrNoFreeSession) {
		t.Fatalf("expected no free session, got %v", err)
	}
}

func TestConnectUnsupportedEndpoint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if !errors.Is(err, connector.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestSendCode(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	defer server.Close()

	handle, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	response, err := handle.SendCode(context.Background(), "M115")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if response != "ok\n" {
		t.Fatalf("unexpected response %q", response)
	}
	board.mu.Lock()
	if len(board.codes) != 1 || board.codes[0] != "M115" || board.sessionKeys[0] != "12345" {
		t.Fatalf("unexpected request %v %v", board.codes, board.sessionKeys)
	}
	board.buff = 0
	board.mu.Unlock()

	_, err = handle.SendCode(context.Background(), "G1 X1")
	if !errors.Is(err, machine.ErrCodeBuffer) {
		t.Fatalf("expected code buffer error, got %v", err)
	}
}

func TestDisconnectStopsHandle(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	defer server.Close()

	handle, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	handle.Register(machine.Binding{State: machine.NewState(server.URL), Lost: func(error) {
		t.Error("lost must not fire on requested disconnect")
	}})

	if err := handle.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	board.mu.Lock()
	disconnected := board.disconnected
	board.mu.Unlock()
	if !disconnected {
		t.Fatal("expected rr_disconnect request")
	}
	if _, err := handle.SendCode(context.Background(), "M115"); !errors.Is(err, machine.ErrDisconnected) {
		t.Fatalf("expected disconnected, got %v", err)
	}
	if err := handle.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestStatusFailuresReportLost(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	defer server.Close()

	handle, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	board.failStatus.Store(true)

	lost := make(chan error, 2)
	handle.Register(machine.Binding{State: machine.NewState(server.URL), Lost: func(err error) { lost <- err }})

	select {
	case err := <-lost:
		if err == nil {
			t.Fatal("expected cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lost callback")
	}
	if _, err := handle.SendCode(context.Background(), "M115"); !errors.Is(err, machine.ErrDisconnected) {
		t.Fatalf("expected disconnected after loss, got %v", err)
	}
	if err := handle.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect after loss: %v", err)
	}
	select {
	case <-lost:
		t.Fatal("lost fired twice")
	default:
	}
}

func TestSendCodeTransportErrorIsDisconnected(t *testing.T) {
	board := newFakeBoard()
	server := httptest.NewServer(board.handler())

	handle, err := newTestConnector().Connect(context.Background(), server.URL, "", "reprap")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	server.Close()

	if _, err := handle.SendCode(context.Background(), "M115"); !errors.Is(err, machine.ErrDisconnected) {
		t.Fatalf("expected disconnected, got %v", err)
	}
}
