// Package dsf talks to Duet Software Framework hosts over their REST API and
// follows the object model through the /machine websocket.
package dsf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"machinehub/internal/connector"
	"machinehub/internal/logging"
	"machinehub/internal/machine"
)

const (
	Kind           = "dsf"
	wsWriteTimeout = 10 * time.Second
	// The host expects an acknowledgement after every model message before
	// it sends the next patch.
	ackMessage = "OK\n"
)

type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Connector struct {
	opts   connector.Options
	dialer wsDialer
}

func New(opts connector.Options) *Connector {
	return &Connector{opts: opts.WithDefaults(), dialer: websocket.DefaultDialer}
}

type connectReply struct {
	SessionKey string `json:"sessionKey"`
}

func (c *Connector) Connect(ctx context.Context, endpoint, _ string, password string) (machine.Handle, error) {
	requester := &connector.Requester{Client: c.opts.HTTPClient, BaseURL: connector.BaseURL(endpoint)}

	var reply connectReply
	err := requester.DoJSON(ctx, connector.Request{
		Path:  "machine/connect",
		Query: url.Values{"password": {password}},
	}, &reply)
	if err != nil {
		switch connector.StatusCode(err) {
		case http.StatusForbidden:
			return nil, connector.ErrBadPassword
		case http.StatusServiceUnavailable:
			return nil, connector.ErrNoFreeSession
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return nil, fmt.Errorf("%s: %w", endpoint, connector.ErrUnsupported)
		}
		return nil, err
	}
	requester.SessionKey = reply.SessionKey

	handle, err := c.subscribe(ctx, endpoint, requester)
	if err != nil {
		c.release(endpoint, requester)
		return nil, err
	}
	return handle, nil
}

// subscribe opens the model websocket and waits for the initial model. The
// socket is closed when ctx ends before the handshake completes.
func (c *Connector) subscribe(ctx context.Context, endpoint string, requester *connector.Requester) (*Handle, error) {
	wsURL, err := subscribeURL(requester.BaseURL, requester.SessionKey)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", endpoint, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var model map[string]any
	if err := conn.ReadJSON(&model); err != nil {
		stop()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("read initial model: %w", ctxErr)
		}
		return nil, fmt.Errorf("read initial model: %w", err)
	}
	handle := &Handle{
		endpoint:  endpoint,
		requester: requester,
		opts:      c.opts,
		logger:    c.opts.Logger.With(map[string]string{logging.FieldEndpoint: endpoint, "connector": Kind}),
		conn:      conn,
		initial:   model,
		done:      make(chan struct{}),
	}
	err = handle.ack()
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acknowledge initial model: %w", err)
	}
	return handle, nil
}

// release gives the session key back after a failed subscription.
func (c *Connector) release(endpoint string, requester *connector.Requester) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if _, err := requester.Do(ctx, connector.Request{Path: "machine/disconnect"}); err != nil {
		c.opts.Logger.Debug("release session failed", map[string]string{
			logging.FieldEndpoint: endpoint,
			logging.FieldError:    err.Error(),
		})
	}
}

func subscribeURL(baseURL, sessionKey string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/machine"
	if sessionKey != "" {
		parsed.RawQuery = url.Values{"sessionKey": {sessionKey}}.Encode()
	}
	return parsed.String(), nil
}

type Handle struct {
	endpoint  string
	requester *connector.Requester
	opts      connector.Options
	logger    *logging.Logger
	conn      *websocket.Conn
	initial   map[string]any
	writeMu   sync.Mutex

	mu      sync.Mutex
	binding machine.Binding
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func (h *Handle) Register(binding machine.Binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binding = binding
	if state := binding.State; state != nil {
		state.SetConnector(Kind)
		state.Replace(h.initial)
		boardType, name, version := describeBoard(h.initial)
		state.SetBoard(boardType)
		state.SetFirmware(name, version)
	}
	h.initial = nil
	h.wg.Add(1)
	go h.follow()
}

// describeBoard reads the main board entry of the object model. DSF reports
// short names such as "MB6HC" which map to table types like "duet3mb6hc".
func describeBoard(model map[string]any) (boardType, firmwareName, firmwareVersion string) {
	boards, _ := model["boards"].([]any)
	if len(boards) == 0 {
		return "", "", ""
	}
	main, _ := boards[0].(map[string]any)
	shortName, _ := main["shortName"].(string)
	firmwareName, _ = main["firmwareName"].(string)
	firmwareVersion, _ = main["firmwareVersion"].(string)
	if shortName != "" {
		boardType = "duet3" + strings.ToLower(strings.ReplaceAll(shortName, " ", ""))
	}
	return boardType, firmwareName, firmwareVersion
}

func (h *Handle) SendCode(ctx context.Context, code string) (string, error) {
	if h.isClosed() {
		return "", fmt.Errorf("%s: %w", h.endpoint, machine.ErrDisconnected)
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()

	response, err := h.requester.Do(ctx, connector.Request{
		Method: http.MethodPost,
		Path:   "machine/code",
		Body:   []byte(code),
	})
	if err != nil {
		return "", h.classify(err)
	}
	return string(response), nil
}

func (h *Handle) classify(err error) error {
	if connector.IsTransportError(err) {
		return fmt.Errorf("%s: %w: %v", h.endpoint, machine.ErrDisconnected, err)
	}
	switch connector.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w: %v", h.endpoint, machine.ErrDisconnected, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", h.endpoint, machine.ErrCodeBuffer)
	}
	return err
}

func (h *Handle) Disconnect(ctx context.Context) error {
	if !h.close() {
		return nil
	}
	h.wg.Wait()
	_, err := h.requester.Do(ctx, connector.Request{Path: "machine/disconnect"})
	return err
}

func (h *Handle) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	close(h.done)
	_ = h.conn.Close()
	return true
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) ack() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return h.conn.WriteMessage(websocket.TextMessage, []byte(ackMessage))
}

// follow applies model patches until the socket drops. A drop that was not
// requested through Disconnect is reported through Binding.Lost.
func (h *Handle) follow() {
	defer h.wg.Done()
	for {
		_, payload, err := h.conn.ReadMessage()
		if err != nil {
			h.lost(fmt.Errorf("model subscription closed: %w", err))
			return
		}
		var patch map[string]any
		if err := json.Unmarshal(payload, &patch); err != nil {
			h.logger.Warn("invalid model patch", map[string]string{logging.FieldError: err.Error()})
		} else {
			h.mu.Lock()
			state := h.binding.State
			h.mu.Unlock()
			if state != nil {
				state.Patch(patch)
			}
		}
		if err := h.ack(); err != nil {
			h.lost(fmt.Errorf("acknowledge model patch: %w", err))
			return
		}
	}
}

func (h *Handle) lost(err error) {
	if !h.close() {
		return
	}
	h.mu.Lock()
	callback := h.binding.Lost
	h.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

var _ machine.Handle = (*Handle)(nil)
var _ machine.Connector = (*Connector)(nil)
