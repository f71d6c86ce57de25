package machine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConnected     Status = "connected"
	StatusDisconnecting Status = "disconnecting"
	StatusOffline       Status = "offline"
)

// Session pairs a connection handle with its state partition.
type Session struct {
	endpoint  string
	id        string
	createdAt time.Time
	state     *State
	handle    Handle

	mu       sync.Mutex
	status   Status
	detached atomic.Bool
}

type SessionInfo struct {
	Endpoint  string        `json:"endpoint"`
	SessionID string        `json:"sessionId"`
	Status    Status        `json:"status"`
	Selected  bool          `json:"selected"`
	CreatedAt time.Time     `json:"createdAt"`
	State     StateSnapshot `json:"state"`
}

func newSession(endpoint string, handle Handle, clock Clock) *Session {
	return &Session{
		endpoint:  endpoint,
		id:        uuid.NewString(),
		createdAt: clock.Now(),
		state:     newState(endpoint, clock),
		handle:    handle,
		status:    StatusConnected,
	}
}

func newDefaultSession(clock Clock) *Session {
	session := newSession(DefaultEndpoint, offlineHandle{}, clock)
	session.status = StatusOffline
	session.state.SetConnector("offline")
	return session
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() *State {
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// beginTeardown marks the session as disconnecting. It reports false if a
// teardown already started.
func (s *Session) beginTeardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusDisconnecting {
		return false
	}
	s.status = StatusDisconnecting
	return true
}

// detach stops command routing to the handle. Later sends fail with
// ErrDisconnected.
func (s *Session) detach() {
	s.detached.Store(true)
}

func (s *Session) dispatch(ctx context.Context, code string) (string, error) {
	if s.detached.Load() {
		return "", endpointError(s.endpoint, fmt.Errorf("session closed: %w", ErrDisconnected))
	}
	return s.handle.SendCode(ctx, code)
}

func (s *Session) info(selected bool) SessionInfo {
	return SessionInfo{
		Endpoint:  s.endpoint,
		SessionID: s.id,
		Status:    s.Status(),
		Selected:  selected,
		CreatedAt: s.createdAt,
		State:     s.state.Snapshot(),
	}
}
