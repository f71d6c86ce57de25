package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"machinehub/internal/event"
	"machinehub/internal/logging"
	"machinehub/internal/machine"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
)

var errRefused = errors.New("connection refused")

type stubHandle struct {
	mu       sync.Mutex
	response string
	sendErr  error
	codes    []string
}

func (h *stubHandle) Register(machine.Binding) {}

func (h *stubHandle) SendCode(_ context.Context, code string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.codes = append(h.codes, code)
	return h.response, h.sendErr
}

func (h *stubHandle) Disconnect(context.Context) error {
	return nil
}

type testServer struct {
	mux     *http.ServeMux
	manager *machine.Manager
	logger  *logging.Logger
	events  *event.Bus[event.Event]
	sink    *notify.MemorySink
	handles map[string]*stubHandle
}

// newTestServer wires a real manager whose connector succeeds for endpoints
// listed in handles and refuses every other endpoint.
func newTestServer(t *testing.T, token string, handles map[string]*stubHandle) *testServer {
	t.Helper()
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(100), logging.LevelDebug, io.Discard)
	events := event.NewBus[event.Event](context.Background(), event.BusOptions{Name: "test_events", HistorySize: 16})
	t.Cleanup(events.Close)
	sink := notify.NewMemorySink()
	connector := machine.ConnectorFunc(func(_ context.Context, endpoint, _, _ string) (machine.Handle, error) {
		if handle, ok := handles[endpoint]; ok {
			return handle, nil
		}
		return nil, errRefused
	})
	manager := machine.NewManager(machine.ManagerOptions{
		Connector: connector,
		Notifier:  notify.Multi{sink, notify.NewBusSink(events)},
		Mirror:    machine.NewBusMirror(events),
		Logger:    logger,
	})
	mux := http.NewServeMux()
	RegisterRoutes(mux, Options{
		Machines:  manager,
		Logger:    logger,
		Events:    events,
		Metrics:   metrics.New(),
		AuthToken: token,
	})
	return &testServer{mux: mux, manager: manager, logger: logger, events: events, sink: sink, handles: handles}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	res := httptest.NewRecorder()
	s.mux.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.NewDecoder(res.Body).Decode(&value); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, res.Body.String())
	}
	return value
}
