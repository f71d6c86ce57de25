package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxErrorBody = 4096

// Requester issues requests against one controller and carries its session
// key once the handshake produced one.
type Requester struct {
	Client     *http.Client
	BaseURL    string
	SessionKey string
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	// ContentType defaults to text/plain when Body is set.
	ContentType string
}

// Do sends req and returns the body of a 2xx reply. Other statuses become
// *HTTPError.
func (r *Requester) Do(ctx context.Context, req Request) ([]byte, error) {
	target := r.BaseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Path, err)
	}
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "text/plain"
		}
		request.Header.Set("Content-Type", contentType)
	}
	if r.SessionKey != "" {
		request.Header.Set("X-Session-Key", r.SessionKey)
	}

	response, err := r.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", req.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(message))}
	}
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Path, err)
	}
	return payload, nil
}

// DoJSON is Do followed by decoding the reply into out.
func (r *Requester) DoJSON(ctx context.Context, req Request, out any) error {
	payload, err := r.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsTransportError reports whether err came from the network rather than
// from a controller reply.
func IsTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
