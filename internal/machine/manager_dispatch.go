package machine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"machinehub/internal/logging"
	"machinehub/internal/metrics"
)

// SendCode sends code to the selected session and returns its reply. Errors
// are always returned to the caller after classification.
func (m *Manager) SendCode(ctx context.Context, code string) (string, error) {
	_, response, err := m.SendCodeSelected(ctx, code)
	return response, err
}

// SendCodeSelected is SendCode that also reports which endpoint the code went
// to, read from the same selection snapshot the dispatch used.
func (m *Manager) SendCodeSelected(ctx context.Context, code string) (endpoint, response string, err error) {
	session := m.selector.Active()
	response, err = m.dispatch(ctx, session, code)
	return session.endpoint, response, err
}

// SendCodeTo sends code to a specific registered session.
func (m *Manager) SendCodeTo(ctx context.Context, endpoint, code string) (string, error) {
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	session, err := m.registry.Get(normalized)
	if err != nil {
		return "", err
	}
	return m.dispatch(ctx, session, code)
}

func (m *Manager) dispatch(ctx context.Context, session *Session, code string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "machine.send_code", trace.WithAttributes(
		attribute.String("machine.endpoint", session.endpoint),
		attribute.String("machine.session_id", session.id),
	))
	defer span.End()

	start := m.clock.Now()
	response, err := session.dispatch(ctx, code)
	elapsed := m.clock.Now().Sub(start).Seconds()
	if err == nil {
		m.metrics.ObserveCommand(metrics.CommandOK, elapsed)
		m.logger.LogCommand(code, response, session.endpoint)
		return response, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	fields := map[string]string{
		logging.FieldEndpoint: session.endpoint,
		logging.FieldCategory: logging.CategoryConsole,
		logging.FieldError:    err.Error(),
		"code":                code,
	}
	switch {
	case errors.Is(err, ErrDisconnected):
		// The disconnect path reports this already.
		m.metrics.ObserveCommand(metrics.CommandDisconnected, elapsed)
	case errors.Is(err, ErrCodeBuffer):
		m.metrics.ObserveCommand(metrics.CommandCodeBuffer, elapsed)
		m.logger.Warn("code buffer full", fields)
	default:
		m.metrics.ObserveCommand(metrics.CommandError, elapsed)
		m.logger.Error("code failed", fields)
	}
	return "", err
}
