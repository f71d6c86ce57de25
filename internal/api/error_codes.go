package api

import (
	"errors"
	"net/http"

	"machinehub/internal/machine"
)

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "code_buffer_full"
	case http.StatusBadGateway:
		return "handshake_failed"
	case http.StatusServiceUnavailable:
		return "disconnected"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// machineError maps orchestration errors onto HTTP statuses.
func machineError(err error) *apiError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, machine.ErrInvalidEndpoint), errors.Is(err, machine.ErrReservedEndpoint):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, machine.ErrUnknownEndpoint), errors.Is(err, machine.ErrAlreadyDisconnected):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, machine.ErrAlreadyConnected),
		errors.Is(err, machine.ErrConnectInProgress),
		errors.Is(err, machine.ErrDisconnectInProgress),
		errors.Is(err, machine.ErrDuplicateEndpoint):
		return &apiError{Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, machine.ErrManagerClosed):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error(), Code: "shutting_down"}
	case errors.Is(err, machine.ErrCodeBuffer):
		return &apiError{Status: http.StatusTooManyRequests, Message: err.Error()}
	case errors.Is(err, machine.ErrDisconnected):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusBadGateway, Message: err.Error(), Code: "command_failed"}
	}
}
