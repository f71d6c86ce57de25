package machine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"machinehub/internal/event"
)

func TestTransitionsRecordSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	handle := &fakeHandle{}
	calls := 0
	manager := NewManager(ManagerOptions{
		Tracer: provider.Tracer("test"),
		Connector: ConnectorFunc(func(context.Context, string, string, string) (Handle, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("refused")
			}
			return handle, nil
		}),
	})

	ctx := context.Background()
	require.NoError(t, manager.Connect(ctx, ConnectRequest{Endpoint: "a"}))
	require.NoError(t, manager.Connect(ctx, ConnectRequest{Endpoint: "a"}))
	_, _ = manager.SendCode(ctx, "M115")
	require.NoError(t, manager.Disconnect(ctx, DisconnectRequest{Teardown: true}))

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	require.Equal(t, "machine.connect", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "machine.connect", spans[1].Name())
	require.Equal(t, codes.Unset, spans[1].Status().Code)
	require.Equal(t, "machine.send_code", spans[2].Name())
	require.Equal(t, "machine.disconnect", spans[3].Name())
}

func TestBusMirrorPublishesMachineEvents(t *testing.T) {
	bus := event.NewBus[event.Event](context.Background(), event.BusOptions{HistorySize: 8})
	t.Cleanup(bus.Close)

	manager := NewManager(ManagerOptions{
		Mirror: NewBusMirror(bus),
		Connector: ConnectorFunc(func(context.Context, string, string, string) (Handle, error) {
			return &fakeHandle{}, nil
		}),
	})
	ctx := context.Background()
	require.NoError(t, manager.Connect(ctx, ConnectRequest{Endpoint: "a"}))
	require.NoError(t, manager.Disconnect(ctx, DisconnectRequest{Endpoint: "a"}))

	var types []string
	for _, published := range bus.History(0) {
		types = append(types, published.Type())
	}
	require.Equal(t, []string{
		event.MachineAdded,
		event.MachineSelected,
		event.MachineSelected,
		event.MachineRemoved,
	}, types)

	selected := bus.History(0)[1].(event.MachineEvent)
	require.Equal(t, DefaultEndpoint, selected.Previous)
	require.Equal(t, "a", selected.Endpoint)
}
