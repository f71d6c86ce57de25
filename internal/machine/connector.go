package machine

import "context"

// Connector performs the handshake with a controller.
type Connector interface {
	Connect(ctx context.Context, endpoint, user, password string) (Handle, error)
}

// Handle is one established controller connection.
type Handle interface {
	// Register hands the connection its state partition and the callback it
	// must invoke when the transport drops on its own. Register must not call
	// Lost synchronously.
	Register(binding Binding)
	SendCode(ctx context.Context, code string) (string, error)
	Disconnect(ctx context.Context) error
}

type Binding struct {
	State *State
	Lost  func(err error)
}

// EndpointMirror follows registry membership for display purposes.
type EndpointMirror interface {
	AddEndpoint(id string)
	RemoveEndpoint(id string)
}

// SelectionObserver is optionally implemented by an EndpointMirror that also
// wants to follow selection changes.
type SelectionObserver interface {
	SelectionChanged(previous, current string)
}

type ConnectorFunc func(ctx context.Context, endpoint, user, password string) (Handle, error)

func (f ConnectorFunc) Connect(ctx context.Context, endpoint, user, password string) (Handle, error) {
	return f(ctx, endpoint, user, password)
}

// offlineHandle backs the default session. It never touches the network.
type offlineHandle struct{}

func (offlineHandle) Register(Binding) {}

func (offlineHandle) SendCode(context.Context, string) (string, error) {
	return "", errNoMachine
}

func (offlineHandle) Disconnect(context.Context) error {
	return nil
}

var errNoMachine = &EndpointError{Endpoint: DefaultEndpoint, Err: noMachineError{}}

type noMachineError struct{}

func (noMachineError) Error() string {
	return "no machine connected"
}

func (noMachineError) Unwrap() error {
	return ErrDisconnected
}
