package api

import (
	"context"
	"net/http"

	otelapi "go.opentelemetry.io/otel"

	"machinehub/internal/event"
	"machinehub/internal/logging"
	"machinehub/internal/machine"
	"machinehub/internal/metrics"
	"machinehub/internal/otel"
)

// Machines is the orchestration surface the HTTP API drives.
type Machines interface {
	Status() machine.OrchestrationStatus
	List() []machine.SessionInfo
	Get(endpoint string) (machine.SessionInfo, error)
	Connect(ctx context.Context, req machine.ConnectRequest) error
	Disconnect(ctx context.Context, req machine.DisconnectRequest) error
	Select(endpoint string) error
	SendCodeSelected(ctx context.Context, code string) (endpoint, response string, err error)
	SendCodeTo(ctx context.Context, endpoint, code string) (string, error)
}

type Options struct {
	Machines       Machines
	Logger         *logging.Logger
	Events         *event.Bus[event.Event]
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

func RegisterRoutes(mux *http.ServeMux, options Options) {
	rest := &RestHandler{
		Machines: options.Machines,
		Logger:   options.Logger,
	}
	tracer := otelapi.Tracer(apiTracerName)
	wrap := func(route string, handler http.Handler) http.Handler {
		return otel.TraceHandler(route, loggingMiddleware(options.Logger, route, handler), tracer)
	}
	token := options.AuthToken

	mux.Handle("GET /api/status", wrap("/api/status", restHandler(token, rest.handleStatus)))
	mux.Handle("GET /api/machines", wrap("/api/machines", restHandler(token, rest.handleListMachines)))
	mux.Handle("POST /api/machines", wrap("/api/machines", restHandler(token, rest.handleConnect)))
	mux.Handle("DELETE /api/machines", wrap("/api/machines", restHandler(token, rest.handleDisconnect)))
	mux.Handle("GET /api/machines/{endpoint}", wrap("/api/machines/{endpoint}", restHandler(token, rest.handleGetMachine)))
	mux.Handle("DELETE /api/machines/{endpoint}", wrap("/api/machines/{endpoint}", restHandler(token, rest.handleDisconnect)))
	mux.Handle("POST /api/machines/{endpoint}/select", wrap("/api/machines/{endpoint}/select", restHandler(token, rest.handleSelect)))
	mux.Handle("POST /api/code", wrap("/api/code", restHandler(token, rest.handleSendCode)))
	mux.Handle("GET /api/logs", wrap("/api/logs", restHandler(token, rest.handleLogs)))
	mux.Handle("DELETE /api/logs", wrap("/api/logs", restHandler(token, rest.handleClearLogs)))
	mux.Handle("GET /metrics", options.Metrics.Handler())
	mux.Handle("GET /ws/events", &eventsHandler{
		Bus:            options.Events,
		Logger:         options.Logger,
		AuthToken:      token,
		AllowedOrigins: options.AllowedOrigins,
	})
	mux.Handle("GET /ws/logs", &logsHandler{
		Logger:         options.Logger,
		AuthToken:      token,
		AllowedOrigins: options.AllowedOrigins,
	})
}
