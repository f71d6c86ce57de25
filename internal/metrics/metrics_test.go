package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryCounters(t *testing.T) {
	registry := New()
	registry.IncConnect(ConnectConnected)
	registry.IncConnect(ConnectConnected)
	registry.IncConnect(ConnectFailed)
	registry.IncDisconnect(DisconnectLost)
	registry.ObserveCommand(CommandCodeBuffer, 0.01)

	if got := testutil.ToFloat64(registry.connectAttempts.WithLabelValues(ConnectConnected)); got != 2 {
		t.Fatalf("expected 2 connected attempts, got %v", got)
	}
	if got := testutil.ToFloat64(registry.connectAttempts.WithLabelValues(ConnectFailed)); got != 1 {
		t.Fatalf("expected 1 failed attempt, got %v", got)
	}
	if got := testutil.ToFloat64(registry.disconnects.WithLabelValues(DisconnectLost)); got != 1 {
		t.Fatalf("expected 1 lost disconnect, got %v", got)
	}
	if got := testutil.ToFloat64(registry.commands.WithLabelValues(CommandCodeBuffer)); got != 1 {
		t.Fatalf("expected 1 code buffer outcome, got %v", got)
	}
}

func TestRegistryGauges(t *testing.T) {
	registry := New()
	registry.SetSessions(3)
	registry.SetGate("connecting", true)
	registry.SetEventSubscriberCounts("machines", 1, 2)

	if got := testutil.ToFloat64(registry.sessions); got != 3 {
		t.Fatalf("expected 3 sessions, got %v", got)
	}
	if got := testutil.ToFloat64(registry.gates.WithLabelValues("connecting")); got != 1 {
		t.Fatalf("expected connecting gate open, got %v", got)
	}
	registry.SetGate("connecting", false)
	if got := testutil.ToFloat64(registry.gates.WithLabelValues("connecting")); got != 0 {
		t.Fatalf("expected connecting gate closed, got %v", got)
	}
	if got := testutil.ToFloat64(registry.eventSubscribers.WithLabelValues("machines", "unfiltered")); got != 2 {
		t.Fatalf("expected 2 unfiltered subscribers, got %v", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncConnect(ConnectFailed)
	registry.SetSessions(1)
	registry.IncEventDropped("bus", "type")
	if registry.Gatherer() == nil {
		t.Fatal("expected gatherer")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	registry := New()
	registry.IncEventPublished("machines", "machine_added")

	server := httptest.NewServer(registry.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `machinehub_events_published_total{bus="machines",type="machine_added"} 1`) {
		t.Fatalf("expected published counter in output:\n%s", body)
	}
}
