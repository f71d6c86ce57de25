package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"machinehub/internal/event"
	"machinehub/internal/logging"
)

const maxEventHistory = 100

type eventPayload struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// eventsHandler streams machine, notification and config events. The
// optional types query narrows the stream and history=N replays the last N
// events before live ones.
type eventsHandler struct {
	Bus            *event.Bus[event.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	if h.Bus == nil {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		return
	}

	query := r.URL.Query()
	historyCount := 0
	if raw := query.Get("history"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusBadRequest, Message: "invalid history"})
			return
		}
		historyCount = min(parsed, maxEventHistory)
	}
	types := splitTypes(query.Get("types"))

	var (
		output <-chan event.Event
		cancel func()
	)
	if len(types) > 0 {
		output, cancel = h.Bus.SubscribeTypes(types...)
	} else {
		output, cancel = h.Bus.Subscribe()
	}
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, http.StatusBadRequest, websocket.CloseProtocolError, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	_, span := startWebSocketSpan(r, "/ws/events", attribute.StringSlice("event.types", types))
	defer span.End()

	allowed := typeFilter(types)
	if historyCount > 0 {
		for _, past := range h.Bus.History(historyCount) {
			if !allowed(past) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(buildEventPayload(past)); err != nil {
				return
			}
		}
	}

	serveWSStream(conn, output, func(value event.Event) (any, bool) {
		if value == nil {
			return nil, false
		}
		return buildEventPayload(value), true
	})
}

func buildEventPayload(value event.Event) eventPayload {
	return eventPayload{
		Type:      value.Type(),
		Timestamp: value.Timestamp(),
		Data:      value,
	}
}

func splitTypes(raw string) []string {
	var types []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}

func typeFilter(types []string) func(event.Event) bool {
	if len(types) == 0 {
		return func(value event.Event) bool { return value != nil }
	}
	set := make(map[string]struct{}, len(types))
	for _, eventType := range types {
		set[eventType] = struct{}{}
	}
	return func(value event.Event) bool {
		if value == nil {
			return false
		}
		_, ok := set[value.Type()]
		return ok
	}
}
