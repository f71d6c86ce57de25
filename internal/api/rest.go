package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"machinehub/internal/logging"
	"machinehub/internal/machine"
	"machinehub/internal/otel"
)

const defaultLogLimit = 200

type RestHandler struct {
	Machines Machines
	Logger   *logging.Logger
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	status := h.Machines.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		OrchestrationStatus: status,
		Machines:            len(status.Endpoints) - 1,
	})
	return nil
}

func (h *RestHandler) handleListMachines(w http.ResponseWriter, r *http.Request) *apiError {
	writeJSON(w, http.StatusOK, h.Machines.List())
	return nil
}

func (h *RestHandler) handleGetMachine(w http.ResponseWriter, r *http.Request) *apiError {
	info, err := h.Machines.Get(r.PathValue("endpoint"))
	if err != nil {
		return machineError(err)
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

// handleConnect answers 200 with the new session, or 502 when the handshake
// failed. Handshake failures are also published as notifications.
func (h *RestHandler) handleConnect(w http.ResponseWriter, r *http.Request) *apiError {
	var request connectRequest
	if err := decodeJSON(r, &request); err != nil {
		return err
	}
	endpoint := strings.TrimSpace(request.Endpoint)
	if endpoint == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "endpoint is required"}
	}
	otel.RecordSpanEvent(r.Context(), "machine.connect_requested", attribute.String("machine.endpoint", endpoint))

	err := h.Machines.Connect(r.Context(), machine.ConnectRequest{
		Endpoint: endpoint,
		User:     request.User,
		Password: request.Password,
	})
	if err != nil {
		return machineError(err)
	}
	info, err := h.Machines.Get(endpoint)
	if err != nil {
		otel.RecordSpanError(r.Context(), err)
		return &apiError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("connection to %s failed", endpoint),
		}
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

// handleDisconnect tears the session down unless force is set. Without an
// endpoint in the path the selected session is disconnected.
func (h *RestHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) *apiError {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid force flag"}
		}
		force = parsed
	}
	err := h.Machines.Disconnect(r.Context(), machine.DisconnectRequest{
		Endpoint: r.PathValue("endpoint"),
		Teardown: !force,
	})
	if err != nil {
		return machineError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *RestHandler) handleSelect(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.Machines.Select(r.PathValue("endpoint")); err != nil {
		return machineError(err)
	}
	writeJSON(w, http.StatusOK, h.Machines.Status())
	return nil
}

func (h *RestHandler) handleSendCode(w http.ResponseWriter, r *http.Request) *apiError {
	var request codeRequest
	if err := decodeJSON(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Code) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "code is required"}
	}

	var (
		response string
		err      error
	)
	target := strings.TrimSpace(request.Machine)
	if target == "" {
		target, response, err = h.Machines.SendCodeSelected(r.Context(), request.Code)
	} else {
		response, err = h.Machines.SendCodeTo(r.Context(), target, request.Code)
	}
	if err != nil {
		return machineError(err)
	}
	writeJSON(w, http.StatusOK, codeResponse{Machine: target, Response: response})
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	query := r.URL.Query()
	var minLevel logging.Level
	if raw := query.Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid level"}
		}
		minLevel = level
	}
	limit, apiErr := parseLimit(query.Get("limit"), defaultLogLimit)
	if apiErr != nil {
		return apiErr
	}
	entries := h.Logger.Buffer().Query(minLevel, strings.TrimSpace(query.Get("machine")), limit)
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries})
	return nil
}

func (h *RestHandler) handleClearLogs(w http.ResponseWriter, r *http.Request) *apiError {
	h.Logger.Buffer().Clear()
	w.WriteHeader(http.StatusNoContent)
	return nil
}
