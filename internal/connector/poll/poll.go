// Package poll talks to RepRapFirmware boards over the rr_* HTTP requests and
// keeps the session alive by polling status.
package poll

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"machinehub/internal/connector"
	"machinehub/internal/logging"
	"machinehub/internal/machine"
)

const Kind = "poll"

type Connector struct {
	opts connector.Options
}

func New(opts connector.Options) *Connector {
	return &Connector{opts: opts.WithDefaults()}
}

type connectReply struct {
	Err            int    `json:"err"`
	SessionTimeout int    `json:"sessionTimeout"`
	BoardType      string `json:"boardType"`
	SessionKey     any    `json:"sessionKey"`
}

type configReply struct {
	FirmwareName    string `json:"firmwareName"`
	FirmwareVersion string `json:"firmwareVersion"`
}

func (c *Connector) Connect(ctx context.Context, endpoint, _ string, password string) (machine.Handle, error) {
	requester := &connector.Requester{Client: c.opts.HTTPClient, BaseURL: connector.BaseURL(endpoint)}

	var reply connectReply
	err := requester.DoJSON(ctx, connector.Request{
		Path: "rr_connect",
		Query: url.Values{
			"password": {password},
			"time":     {time.Now().Format("2006-01-02T15:04:05")},
		},
	}, &reply)
	if err != nil {
		if status := connector.StatusCode(err); status == 404 {
			return nil, fmt.Errorf("%s: %w", endpoint, connector.ErrUnsupported)
		}
		return nil, err
	}
	switch reply.Err {
	case 0:
	case 1:
		return nil, connector.ErrBadPassword
	case 2:
		return nil, connector.ErrNoFreeSession
	default:
		return nil, fmt.Errorf("rr_connect failed with code %d", reply.Err)
	}
	requester.SessionKey = sessionKey(reply.SessionKey)

	handle := &Handle{
		endpoint:  endpoint,
		requester: requester,
		opts:      c.opts,
		logger:    c.opts.Logger.With(map[string]string{logging.FieldEndpoint: endpoint, "connector": Kind}),
		boardType: reply.BoardType,
		done:      make(chan struct{}),
	}

	var config configReply
	if err := requester.DoJSON(ctx, connector.Request{Path: "rr_config"}, &config); err == nil {
		handle.firmwareName = config.FirmwareName
		handle.firmwareVersion = config.FirmwareVersion
	} else {
		handle.logger.Debug("rr_config unavailable", map[string]string{logging.FieldError: err.Error()})
	}
	return handle, nil
}

// sessionKey accepts the numeric key newer firmware returns.
func sessionKey(value any) string {
	switch typed := value.(type) {
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case string:
		return typed
	default:
		return ""
	}
}

type Handle struct {
	endpoint        string
	requester       *connector.Requester
	opts            connector.Options
	logger          *logging.Logger
	boardType       string
	firmwareName    string
	firmwareVersion string

	mu      sync.Mutex
	binding machine.Binding
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	// codeMu keeps rr_gcode and its rr_reply paired.
	codeMu sync.Mutex
}

func (h *Handle) Register(binding machine.Binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binding = binding
	if state := binding.State; state != nil {
		state.SetConnector(Kind)
		state.SetBoard(h.boardType)
		state.SetFirmware(h.firmwareName, h.firmwareVersion)
	}
	h.wg.Add(1)
	go h.pollStatus()
}

type gcodeReply struct {
	Buff *int `json:"buff"`
}

func (h *Handle) SendCode(ctx context.Context, code string) (string, error) {
	if h.isClosed() {
		return "", fmt.Errorf("%s: %w", h.endpoint, machine.ErrDisconnected)
	}
	h.codeMu.Lock()
	defer h.codeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()

	var reply gcodeReply
	err := h.requester.DoJSON(ctx, connector.Request{
		Path:  "rr_gcode",
		Query: url.Values{"gcode": {code}},
	}, &reply)
	if err != nil {
		return "", h.classify(err)
	}
	if reply.Buff != nil && *reply.Buff == 0 {
		return "", fmt.Errorf("%s: %w", h.endpoint, machine.ErrCodeBuffer)
	}

	response, err := h.requester.Do(ctx, connector.Request{Path: "rr_reply"})
	if err != nil {
		return "", h.classify(err)
	}
	return string(response), nil
}

// classify maps transport failures and expired sessions onto ErrDisconnected.
func (h *Handle) classify(err error) error {
	if connector.IsTransportError(err) {
		return fmt.Errorf("%s: %w: %v", h.endpoint, machine.ErrDisconnected, err)
	}
	switch connector.StatusCode(err) {
	case 401, 403:
		return fmt.Errorf("%s: session expired: %w", h.endpoint, machine.ErrDisconnected)
	case 503:
		return fmt.Errorf("%s: %w", h.endpoint, machine.ErrCodeBuffer)
	}
	return err
}

func (h *Handle) Disconnect(ctx context.Context) error {
	if !h.close() {
		return nil
	}
	h.wg.Wait()
	_, err := h.requester.Do(ctx, connector.Request{Path: "rr_disconnect"})
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
	return true
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) pollStatus() {
	defer h.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Every(h.opts.StatusInterval), 1)
	failures := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		err := h.fetchStatus(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			continue
		}
		failures++
		h.logger.Debug("status poll failed", map[string]string{
			logging.FieldError: err.Error(),
			"failures":         strconv.Itoa(failures),
		})
		if failures >= h.opts.MaxStatusFailures {
			h.lost(fmt.Errorf("status poll failed %d times: %w", failures, err))
			return
		}
	}
}

func (h *Handle) fetchStatus(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()
	var status map[string]any
	err := h.requester.DoJSON(ctx, connector.Request{
		Path:  "rr_status",
		Query: url.Values{"type": {"3"}},
	}, &status)
	if err != nil {
		return err
	}
	h.mu.Lock()
	state := h.binding.State
	h.mu.Unlock()
	if state != nil {
		state.Patch(status)
	}
	return nil
}

// lost runs on the status goroutine, never inside Register.
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
