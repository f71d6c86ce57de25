package machine

import "sync/atomic"

// Selector holds the active session. Readers never lock; every swap is a
// single pointer store so exactly one session is active at any instant.
type Selector struct {
	registry *Registry
	active   atomic.Pointer[Session]
	onChange func(previous, current string)
}

func NewSelector(registry *Registry, initial *Session, onChange func(previous, current string)) *Selector {
	selector := &Selector{registry: registry, onChange: onChange}
	selector.active.Store(initial)
	return selector
}

// Select activates endpoint. Selecting the active endpoint again changes
// nothing and reports false.
func (s *Selector) Select(endpoint string) (bool, error) {
	session, err := s.registry.Get(endpoint)
	if err != nil {
		return false, err
	}
	previous := s.active.Load()
	if previous == session {
		return false, nil
	}
	s.active.Store(session)
	if s.onChange != nil {
		previousEndpoint := ""
		if previous != nil {
			previousEndpoint = previous.endpoint
		}
		s.onChange(previousEndpoint, endpoint)
	}
	return true, nil
}

func (s *Selector) Active() *Session {
	return s.active.Load()
}

func (s *Selector) Endpoint() string {
	if session := s.active.Load(); session != nil {
		return session.endpoint
	}
	return ""
}
