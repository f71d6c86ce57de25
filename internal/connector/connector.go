// Package connector holds what the controller transports share: error
// kinds, HTTP plumbing and the fallback chain.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"machinehub/internal/logging"
	"machinehub/internal/machine"
)

var (
	ErrBadPassword   = errors.New("invalid password")
	ErrNoFreeSession = errors.New("no free session")
	// ErrUnsupported means the endpoint does not speak this protocol, so the
	// next connector in a chain may try.
	ErrUnsupported = errors.New("protocol not supported by endpoint")
)

const (
	DefaultRequestTimeout    = 5 * time.Second
	DefaultStatusInterval    = 250 * time.Millisecond
	DefaultMaxStatusFailures = 3
)

type Options struct {
	HTTPClient        *http.Client
	RequestTimeout    time.Duration
	StatusInterval    time.Duration
	MaxStatusFailures int
	Logger            *logging.Logger
}

// WithDefaults fills every unset option.
func (o Options) WithDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = DefaultStatusInterval
	}
	if o.MaxStatusFailures <= 0 {
		o.MaxStatusFailures = DefaultMaxStatusFailures
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// HTTPError is a non-success reply from a controller.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("controller responded %d", e.StatusCode)
	}
	return fmt.Sprintf("controller responded %d: %s", e.StatusCode, e.Message)
}

// BaseURL turns an endpoint into an http URL without a trailing slash.
func BaseURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}

// Chain tries each connector in order and returns the first session. It stops
// early once an endpoint rejected the credentials or had no free session.
type Chain []machine.Connector

func (c Chain) Connect(ctx context.Context, endpoint, user, password string) (machine.Handle, error) {
	if len(c) == 0 {
		return nil, errors.New("no connectors configured")
	}
	var errs []error
	for _, next := range c {
		handle, err := next.Connect(ctx, endpoint, user, password)
		if err == nil {
			return handle, nil
		}
		if errors.Is(err, ErrBadPassword) || errors.Is(err, ErrNoFreeSession) {
			return nil, err
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
