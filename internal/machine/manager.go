package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"machinehub/internal/logging"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
)

const (
	DefaultPassword        = "reprap"
	defaultConnectTimeout  = 10 * time.Second
	defaultTeardownTimeout = 5 * time.Second
	tracerName             = "machinehub/machine"
)

type ManagerOptions struct {
	Connector       Connector
	Notifier        notify.Sink
	Mirror          EndpointMirror
	Logger          *logging.Logger
	Metrics         *metrics.Registry
	Tracer          trace.Tracer
	Clock           Clock
	DefaultUser     string
	DefaultPassword string
	ConnectTimeout  time.Duration
	TeardownTimeout time.Duration
}

// Manager owns the registry, the selector and the transition gates. mu
// serializes every mutation of the three; network I/O runs with mu released.
type Manager struct {
	mu                    sync.Mutex
	connecting            bool
	connectingEndpoint    string
	disconnecting         bool
	disconnectingEndpoint string
	// connectDone is closed when the in-flight connect releases its gate.
	connectDone chan struct{}
	closed      bool

	registry *Registry
	selector *Selector

	connector       Connector
	notifier        notify.Sink
	mirror          EndpointMirror
	logger          *logging.Logger
	metrics         *metrics.Registry
	tracer          trace.Tracer
	clock           Clock
	defaultUser     string
	defaultPassword string
	connectTimeout  time.Duration
	teardownTimeout time.Duration
}

type ConnectRequest struct {
	Endpoint string
	User     string
	Password string
}

// DisconnectRequest targets the selected session when Endpoint is empty.
// Teardown=false skips the network teardown for transports that already
// report themselves severed.
type DisconnectRequest struct {
	Endpoint string
	Teardown bool
}

// OrchestrationStatus is a read-only view of the gates and selection.
type OrchestrationStatus struct {
	Selected              string   `json:"selected"`
	Connecting            bool     `json:"connecting"`
	ConnectingEndpoint    string   `json:"connectingEndpoint,omitempty"`
	Disconnecting         bool     `json:"disconnecting"`
	DisconnectingEndpoint string   `json:"disconnectingEndpoint,omitempty"`
	Endpoints             []string `json:"endpoints"`
}

func NewManager(opts ManagerOptions) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	password := opts.DefaultPassword
	if password == "" {
		password = DefaultPassword
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	teardownTimeout := opts.TeardownTimeout
	if teardownTimeout <= 0 {
		teardownTimeout = defaultTeardownTimeout
	}

	manager := &Manager{
		registry:        NewRegistry(),
		connector:       opts.Connector,
		notifier:        opts.Notifier,
		mirror:          opts.Mirror,
		logger:          logger,
		metrics:         opts.Metrics,
		tracer:          tracer,
		clock:           clock,
		defaultUser:     opts.DefaultUser,
		defaultPassword: password,
		connectTimeout:  connectTimeout,
		teardownTimeout: teardownTimeout,
	}

	defaultSession := newDefaultSession(clock)
	_ = manager.registry.Insert(DefaultEndpoint, defaultSession)
	manager.selector = NewSelector(manager.registry, defaultSession, manager.selectionChanged)
	manager.metrics.SetSessions(0)
	manager.metrics.SetGate("connecting", false)
	manager.metrics.SetGate("disconnecting", false)
	return manager
}

// Status reports the gates, the selected endpoint and every registered
// endpoint in insertion order.
func (m *Manager) Status() OrchestrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return OrchestrationStatus{
		Selected:              m.selector.Endpoint(),
		Connecting:            m.connecting,
		ConnectingEndpoint:    m.connectingEndpoint,
		Disconnecting:         m.disconnecting,
		DisconnectingEndpoint: m.disconnectingEndpoint,
		Endpoints:             m.registry.Endpoints(),
	}
}

func (m *Manager) Selected() string {
	return m.selector.Endpoint()
}

// Active returns the state partition of the selected session.
func (m *Manager) Active() *State {
	return m.selector.Active().State()
}

func (m *Manager) IsConnected(endpoint string) bool {
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil || normalized == DefaultEndpoint {
		return false
	}
	return m.registry.Has(normalized)
}

func (m *Manager) List() []SessionInfo {
	selected := m.selector.Active()
	sessions := m.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.info(session == selected))
	}
	return infos
}

func (m *Manager) Get(endpoint string) (SessionInfo, error) {
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return SessionInfo{}, err
	}
	session, err := m.registry.Get(normalized)
	if err != nil {
		return SessionInfo{}, err
	}
	return session.info(session == m.selector.Active()), nil
}

// Select makes a registered endpoint the active one.
func (m *Manager) Select(endpoint string) error {
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.selector.Select(normalized)
	return err
}

func (m *Manager) selectionChanged(previous, current string) {
	m.logger.Info("machine selected", map[string]string{
		logging.FieldEndpoint: current,
		"previous":            previous,
	})
	if observer, ok := m.mirror.(SelectionObserver); ok {
		observer.SelectionChanged(previous, current)
	}
}

func (m *Manager) notify(ctx context.Context, level, message, endpoint string, cause error) {
	fields := map[string]string{notify.FieldEndpoint: endpoint}
	if cause != nil {
		fields[logging.FieldError] = cause.Error()
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	m.metrics.IncNotification(level)
	if m.notifier == nil {
		return
	}
	event := notify.Event{
		Level:      level,
		Message:    message,
		Fields:     fields,
		OccurredAt: m.clock.Now(),
	}
	if err := m.notifier.Emit(context.WithoutCancel(ctx), event); err != nil {
		m.logger.Warn("notification delivery failed", map[string]string{
			logging.FieldEndpoint: endpoint,
			logging.FieldError:    err.Error(),
		})
	}
}

func (m *Manager) setConnectingLocked(endpoint string, active bool) {
	switch {
	case active:
		m.connectDone = make(chan struct{})
	case m.connectDone != nil:
		close(m.connectDone)
		m.connectDone = nil
	}
	m.connecting = active
	m.connectingEndpoint = endpoint
	m.metrics.SetGate("connecting", active)
}

func (m *Manager) setDisconnectingLocked(endpoint string, active bool) {
	m.disconnecting = active
	m.disconnectingEndpoint = endpoint
	m.metrics.SetGate("disconnecting", active)
}

func (m *Manager) sessionCountLocked() {
	m.metrics.SetSessions(m.registry.Len() - 1)
}
