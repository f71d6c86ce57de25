package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"machinehub/internal/logging"
)

// logsHandler streams live log entries, optionally narrowed by level and
// machine query parameters.
type logsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *logsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	query := r.URL.Query()
	var minLevel logging.Level
	if raw := query.Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusBadRequest, Message: "invalid level"})
			return
		}
		minLevel = level
	}
	endpoint := strings.TrimSpace(query.Get("machine"))

	output, cancel := h.Logger.Subscribe(minLevel)
	if output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusServiceUnavailable, Message: "log stream unavailable"})
		return
	}
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, http.StatusBadRequest, websocket.CloseProtocolError, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	_, span := startWebSocketSpan(r, "/ws/logs", attribute.String("machine.endpoint", endpoint))
	defer span.End()

	serveWSStream(conn, output, func(entry logging.LogEntry) (any, bool) {
		if endpoint != "" && entry.Endpoint() != endpoint {
			return nil, false
		}
		return entry, true
	})
}
