package machine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"machinehub/internal/logging"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
)

// Connect establishes a session to req.Endpoint and selects it.
//
// Only admission errors are returned. Handshake failures are reported as
// error notifications and leave the registry and selection untouched. The
// connecting gate is released on every path.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) error {
	endpoint, err := NormalizeEndpoint(req.Endpoint)
	if err != nil {
		m.metrics.IncConnect(metrics.ConnectRejected)
		return err
	}
	if err := m.admitConnect(endpoint); err != nil {
		m.metrics.IncConnect(metrics.ConnectRejected)
		return err
	}
	defer m.releaseConnect()

	user := req.User
	if user == "" {
		user = m.defaultUser
	}
	password := req.Password
	if password == "" {
		password = m.defaultPassword
	}

	ctx, span := m.tracer.Start(ctx, "machine.connect", trace.WithAttributes(
		attribute.String("machine.endpoint", endpoint),
	))
	defer span.End()

	handle, err := m.handshake(ctx, endpoint, user, password)
	if err == nil {
		err = m.commitConnect(endpoint, handle)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.IncConnect(metrics.ConnectFailed)
		m.logger.Error("connect failed", map[string]string{
			logging.FieldEndpoint: endpoint,
			logging.FieldError:    err.Error(),
		})
		m.notify(ctx, notify.LevelError, "Could not connect to "+endpoint, endpoint, err)
		return nil
	}

	span.SetAttributes(attribute.String("machine.session_id", m.sessionID(endpoint)))
	m.metrics.IncConnect(metrics.ConnectConnected)
	m.logger.Info("machine connected", map[string]string{logging.FieldEndpoint: endpoint})
	m.notify(ctx, notify.LevelSuccess, "Connected to "+endpoint, endpoint, nil)
	return nil
}

// admitConnect checks the preconditions in order and closes the gate in the
// same critical section, so the first caller wins.
func (m *Manager) admitConnect(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return endpointError(endpoint, ErrManagerClosed)
	}
	if endpoint == DefaultEndpoint {
		return endpointError(endpoint, ErrReservedEndpoint)
	}
	if m.registry.Has(endpoint) {
		return endpointError(endpoint, ErrAlreadyConnected)
	}
	if m.connecting {
		return endpointError(endpoint, ErrConnectInProgress)
	}
	m.setConnectingLocked(endpoint, true)
	return nil
}

func (m *Manager) releaseConnect() {
	m.mu.Lock()
	m.setConnectingLocked("", false)
	m.mu.Unlock()
}

func (m *Manager) handshake(ctx context.Context, endpoint, user, password string) (Handle, error) {
	if m.connector == nil {
		return nil, errors.New("no connector configured")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectTimeout)
	defer cancel()
	handle, err := m.connector.Connect(ctx, endpoint, user, password)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, errors.New("connector returned no session")
	}
	return handle, nil
}

// commitConnect mounts the new session: registry, mirror, binding, then
// selection.
func (m *Manager) commitConnect(endpoint string, handle Handle) error {
	session := newSession(endpoint, handle, m.clock)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discardHandle(endpoint, handle)
		return endpointError(endpoint, ErrManagerClosed)
	}
	if err := m.registry.Insert(endpoint, session); err != nil {
		m.mu.Unlock()
		m.discardHandle(endpoint, handle)
		return err
	}
	if m.mirror != nil {
		m.mirror.AddEndpoint(endpoint)
	}
	handle.Register(Binding{
		State: session.state,
		Lost: func(err error) {
			go m.ConnectionLost(context.Background(), endpoint, session.id, err)
		},
	})
	_, _ = m.selector.Select(endpoint)
	m.sessionCountLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) discardHandle(endpoint string, handle Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.teardownTimeout)
	defer cancel()
	if err := handle.Disconnect(ctx); err != nil {
		m.logger.Warn("discarding connection failed", map[string]string{
			logging.FieldEndpoint: endpoint,
			logging.FieldError:    err.Error(),
		})
	}
}

func (m *Manager) sessionID(endpoint string) string {
	session, err := m.registry.Get(endpoint)
	if err != nil {
		return ""
	}
	return session.id
}
