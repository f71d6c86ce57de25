// Package client talks to a running machinehub server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"machinehub/internal/logging"
	"machinehub/internal/machine"
)

const DefaultURL = "http://127.0.0.1:8080"

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

type Status struct {
	machine.OrchestrationStatus
	Machines int `json:"machines"`
}

type ConnectOptions struct {
	Endpoint string `json:"endpoint"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

type CodeReply struct {
	Machine  string `json:"machine"`
	Response string `json:"response"`
}

type LogQuery struct {
	Level   string
	Machine string
	Limit   int
}

func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Client{http: ensureClient(httpClient), baseURL: baseURL, token: token}, nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &status)
	return status, err
}

func (c *Client) List(ctx context.Context) ([]machine.SessionInfo, error) {
	var sessions []machine.SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/machines", nil, nil, &sessions)
	return sessions, err
}

func (c *Client) Get(ctx context.Context, endpoint string) (machine.SessionInfo, error) {
	var info machine.SessionInfo
	path, err := machinePath(endpoint, "")
	if err != nil {
		return info, err
	}
	err = c.do(ctx, http.MethodGet, path, nil, nil, &info)
	return info, err
}

// Connect returns the new session. A failed handshake surfaces as an
// HTTPError with status 502.
func (c *Client) Connect(ctx context.Context, options ConnectOptions) (machine.SessionInfo, error) {
	var info machine.SessionInfo
	options.Endpoint = strings.TrimSpace(options.Endpoint)
	if options.Endpoint == "" {
		return info, errors.New("endpoint is required")
	}
	err := c.do(ctx, http.MethodPost, "/api/machines", nil, options, &info)
	return info, err
}

// Disconnect removes endpoint, or the selected machine when endpoint is empty.
// force skips the teardown request to the controller.
func (c *Client) Disconnect(ctx context.Context, endpoint string, force bool) error {
	path := "/api/machines"
	if strings.TrimSpace(endpoint) != "" {
		var err error
		if path, err = machinePath(endpoint, ""); err != nil {
			return err
		}
	}
	var query url.Values
	if force {
		query = url.Values{"force": {"true"}}
	}
	return c.do(ctx, http.MethodDelete, path, query, nil, nil)
}

func (c *Client) Select(ctx context.Context, endpoint string) (machine.OrchestrationStatus, error) {
	var status machine.OrchestrationStatus
	path, err := machinePath(endpoint, "/select")
	if err != nil {
		return status, err
	}
	err = c.do(ctx, http.MethodPost, path, nil, nil, &status)
	return status, err
}

// Send dispatches code to target, or to the selected machine when target is
// empty.
func (c *Client) Send(ctx context.Context, target, code string) (CodeReply, error) {
	var reply CodeReply
	if strings.TrimSpace(code) == "" {
		return reply, errors.New("code is required")
	}
	payload := map[string]string{"code": code}
	if target = strings.TrimSpace(target); target != "" {
		payload["machine"] = target
	}
	err := c.do(ctx, http.MethodPost, "/api/code", nil, payload, &reply)
	return reply, err
}

func (c *Client) Logs(ctx context.Context, query LogQuery) ([]logging.LogEntry, error) {
	values := url.Values{}
	if query.Level != "" {
		values.Set("level", query.Level)
	}
	if query.Machine != "" {
		values.Set("machine", query.Machine)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	var payload struct {
		Entries []logging.LogEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/logs", values, nil, &payload)
	return payload.Entries, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	addToken(request, c.token)

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return readHTTPError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func machinePath(endpoint, suffix string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("endpoint is required")
	}
	return "/api/machines/" + url.PathEscape(endpoint) + suffix, nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readHTTPError(response *http.Response) *HTTPError {
	httpErr := &HTTPError{StatusCode: response.StatusCode, Message: response.Status}
	body, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	text := strings.TrimSpace(string(body))
	if text == "" {
		return httpErr
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		httpErr.Message = text
		return httpErr
	}
	httpErr.Code = payload.Code
	switch {
	case strings.TrimSpace(payload.Error) != "":
		httpErr.Message = payload.Error
	case strings.TrimSpace(payload.Message) != "":
		httpErr.Message = payload.Message
	}
	return httpErr
}
