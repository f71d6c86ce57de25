package machine

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"machinehub/internal/logging"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
)

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Connect(ctx context.Context, endpoint, user, password string) (Handle, error) {
	args := m.Called(ctx, endpoint, user, password)
	handle, _ := args.Get(0).(Handle)
	return handle, args.Error(1)
}

type fakeHandle struct {
	mu            sync.Mutex
	binding       Binding
	registered    bool
	response      string
	sendErr       error
	disconnectErr error
	disconnects   int
	codes         []string
	// When set, Disconnect signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
	// When set, SendCode signals sendEntered and waits for sendRelease.
	sendEntered chan struct{}
	sendRelease chan struct{}
}

func (h *fakeHandle) Register(binding Binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binding = binding
	h.registered = true
}

func (h *fakeHandle) SendCode(_ context.Context, code string) (string, error) {
	if h.sendEntered != nil {
		close(h.sendEntered)
		<-h.sendRelease
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.codes = append(h.codes, code)
	if h.sendErr != nil {
		return "", h.sendErr
	}
	return h.response, nil
}

func (h *fakeHandle) Disconnect(context.Context) error {
	if h.entered != nil {
		close(h.entered)
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	return h.disconnectErr
}

func (h *fakeHandle) lost(err error) {
	h.mu.Lock()
	lost := h.binding.Lost
	h.mu.Unlock()
	lost(err)
}

func (h *fakeHandle) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

type recordingMirror struct {
	mu         sync.Mutex
	calls      []string
	selections []string
}

func (m *recordingMirror) AddEndpoint(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "add:"+id)
}

func (m *recordingMirror) RemoveEndpoint(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "remove:"+id)
}

func (m *recordingMirror) SelectionChanged(previous, current string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections = append(m.selections, previous+"->"+current)
}

func (m *recordingMirror) snapshot() ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...), append([]string(nil), m.selections...)
}

type harness struct {
	manager   *Manager
	connector *mockConnector
	sink      *notify.MemorySink
	mirror    *recordingMirror
	logs      *logging.LogBuffer
	metrics   *metrics.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		connector: &mockConnector{},
		sink:      notify.NewMemorySink(),
		mirror:    &recordingMirror{},
		logs:      logging.NewLogBuffer(100),
		metrics:   metrics.New(),
	}
	h.manager = NewManager(ManagerOptions{
		Connector: h.connector,
		Notifier:  h.sink,
		Mirror:    h.mirror,
		Logger:    logging.NewLoggerWithOutput(h.logs, logging.LevelDebug, io.Discard),
		Metrics:   h.metrics,
	})
	return h
}

// connect registers endpoint through the mock connector and returns its handle.
func (h *harness) connect(t *testing.T, endpoint string) *fakeHandle {
	t.Helper()
	handle := &fakeHandle{}
	h.connector.On("Connect", mock.Anything, endpoint, "", DefaultPassword).Return(handle, nil).Once()
	if err := h.manager.Connect(context.Background(), ConnectRequest{Endpoint: endpoint}); err != nil {
		t.Fatalf("connect %s: %v", endpoint, err)
	}
	if !h.manager.IsConnected(endpoint) {
		t.Fatalf("expected %s connected", endpoint)
	}
	return handle
}

func (h *harness) errorLogs() []logging.LogEntry {
	return h.logs.Query(logging.LevelError, "", 0)
}
