package machine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"machinehub/internal/logging"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
)

// Disconnect removes a session. Once admitted it always completes: a failed
// teardown becomes a warning notification and the session is removed anyway.
func (m *Manager) Disconnect(ctx context.Context, req DisconnectRequest) error {
	endpoint := m.selector.Endpoint()
	if req.Endpoint != "" {
		normalized, err := NormalizeEndpoint(req.Endpoint)
		if err != nil {
			return err
		}
		endpoint = normalized
	}
	mode := metrics.DisconnectFast
	if req.Teardown {
		mode = metrics.DisconnectTeardown
	}
	return m.disconnect(ctx, endpoint, "", req.Teardown, mode)
}

func (m *Manager) disconnect(ctx context.Context, endpoint, sessionID string, teardown bool, mode string) error {
	session, err := m.admitDisconnect(endpoint, sessionID, teardown)
	if err != nil {
		return err
	}

	ctx, span := m.tracer.Start(ctx, "machine.disconnect", trace.WithAttributes(
		attribute.String("machine.endpoint", endpoint),
		attribute.String("machine.session_id", session.id),
		attribute.Bool("machine.teardown", teardown),
	))
	defer span.End()

	var teardownErr error
	if teardown {
		teardownErr = m.teardown(ctx, session)
	}

	m.mu.Lock()
	if teardown {
		m.setDisconnectingLocked("", false)
	}
	m.removeLocked(session)
	m.mu.Unlock()

	m.metrics.IncDisconnect(mode)
	fields := map[string]string{logging.FieldEndpoint: endpoint, "mode": mode}
	switch {
	case teardownErr != nil:
		span.RecordError(teardownErr)
		span.SetStatus(codes.Error, teardownErr.Error())
		fields[logging.FieldError] = teardownErr.Error()
		m.logger.Warn("machine disconnected after failed teardown", fields)
		m.notify(ctx, notify.LevelWarning, "Could not disconnect cleanly from "+endpoint, endpoint, teardownErr)
	case teardown:
		m.logger.Info("machine disconnected", fields)
		m.notify(ctx, notify.LevelSuccess, "Disconnected from "+endpoint, endpoint, nil)
	default:
		m.logger.Info("machine removed", fields)
	}
	return nil
}

// admitDisconnect validates the target and, for a live teardown, closes the
// disconnecting gate in the same critical section. A non-empty sessionID must
// match the registered session.
func (m *Manager) admitDisconnect(endpoint, sessionID string, teardown bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if endpoint == DefaultEndpoint {
		return nil, endpointError(endpoint, ErrReservedEndpoint)
	}
	session, err := m.registry.Get(endpoint)
	if err != nil || (sessionID != "" && session.id != sessionID) {
		return nil, endpointError(endpoint, ErrAlreadyDisconnected)
	}
	if teardown && m.disconnecting {
		return nil, endpointError(endpoint, ErrDisconnectInProgress)
	}
	if !session.beginTeardown() {
		return nil, endpointError(endpoint, ErrDisconnectInProgress)
	}
	if teardown {
		m.setDisconnectingLocked(endpoint, true)
	}
	return session, nil
}

func (m *Manager) teardown(ctx context.Context, session *Session) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.teardownTimeout)
	defer cancel()
	return session.handle.Disconnect(ctx)
}

// removeLocked detaches command routing, moves the selection off the session
// and only then drops it from the registry.
func (m *Manager) removeLocked(session *Session) {
	session.detach()
	if m.selector.Active() == session {
		_, _ = m.selector.Select(DefaultEndpoint)
	}
	_, _ = m.registry.Remove(session.endpoint)
	if m.mirror != nil {
		m.mirror.RemoveEndpoint(session.endpoint)
	}
	m.sessionCountLocked()
}

// ConnectionLost handles a transport that dropped on its own. sessionID
// guards against a stale callback removing a newer session for the same
// endpoint; an empty sessionID matches any session.
func (m *Manager) ConnectionLost(ctx context.Context, endpoint, sessionID string, cause error) {
	err := m.disconnect(ctx, endpoint, sessionID, false, metrics.DisconnectLost)
	if err != nil {
		m.logger.Debug("lost connection already handled", map[string]string{
			logging.FieldEndpoint: endpoint,
			logging.FieldError:    err.Error(),
		})
		return
	}
	m.notify(ctx, notify.LevelWarning, "Connection to "+endpoint+" lost", endpoint, cause)
}

// Close stops admitting connects, waits for an in-flight connect to settle
// and then tears down every session. A handshake that completes after Close
// is discarded instead of registered.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	pending := m.connectDone
	m.mu.Unlock()

	var waitErr error
	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			waitErr = fmt.Errorf("waiting for connect: %w", ctx.Err())
		}
	}
	return errors.Join(waitErr, m.DisconnectAll(ctx))
}

// DisconnectAll tears down every connected session one at a time.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, endpoint := range m.registry.Endpoints() {
		if endpoint == DefaultEndpoint {
			continue
		}
		err := m.Disconnect(ctx, DisconnectRequest{Endpoint: endpoint, Teardown: true})
		if err != nil && !errors.Is(err, ErrAlreadyDisconnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
