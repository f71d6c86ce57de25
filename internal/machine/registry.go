package machine

import "sync"

// Registry maps endpoints to sessions in insertion order. Membership changes
// never move the selection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Insert(endpoint string, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[endpoint]; exists {
		return endpointError(endpoint, ErrDuplicateEndpoint)
	}
	r.sessions[endpoint] = session
	r.order = append(r.order, endpoint)
	return nil
}

// Remove fails only when the endpoint is absent.
func (r *Registry) Remove(endpoint string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, exists := r.sessions[endpoint]
	if !exists {
		return nil, endpointError(endpoint, ErrUnknownEndpoint)
	}
	delete(r.sessions, endpoint)
	for idx, existing := range r.order {
		if existing == endpoint {
			r.order = append(r.order[:idx], r.order[idx+1:]...)
			break
		}
	}
	return session, nil
}

func (r *Registry) Get(endpoint string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, exists := r.sessions[endpoint]
	if !exists {
		return nil, endpointError(endpoint, ErrUnknownEndpoint)
	}
	return session, nil
}

func (r *Registry) Has(endpoint string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sessions[endpoint]
	return exists
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.order))
	for _, endpoint := range r.order {
		sessions = append(sessions, r.sessions[endpoint])
	}
	return sessions
}

func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make([]string, len(r.order))
	copy(endpoints, r.order)
	return endpoints
}
