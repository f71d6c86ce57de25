package machine

import (
	"errors"
	"fmt"
)

// Admission errors. They are returned before any I/O happens.
var (
	ErrReservedEndpoint     = errors.New("endpoint is reserved")
	ErrInvalidEndpoint      = errors.New("endpoint is empty")
	ErrAlreadyConnected     = errors.New("machine is already connected")
	ErrAlreadyDisconnected  = errors.New("machine is already disconnected")
	ErrConnectInProgress    = errors.New("another connect is in progress")
	ErrDisconnectInProgress = errors.New("another disconnect is in progress")
	ErrDuplicateEndpoint    = errors.New("endpoint already registered")
	ErrUnknownEndpoint      = errors.New("endpoint not registered")
	ErrManagerClosed        = errors.New("machine manager is shutting down")
)

// Command errors. Connectors wrap these so dispatch can classify failures.
var (
	ErrDisconnected = errors.New("machine disconnected")
	ErrCodeBuffer   = errors.New("code buffer full")
)

// EndpointError attaches the endpoint to a sentinel error.
type EndpointError struct {
	Endpoint string
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

func endpointError(endpoint string, err error) error {
	return &EndpointError{Endpoint: endpoint, Err: err}
}
