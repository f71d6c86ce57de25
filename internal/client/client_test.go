package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"machinehub/internal/machine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	requireLocalListener(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(server.URL+"/", "token", server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("  ", "", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestConnectSendsPayloadAndToken(t *testing.T) {
	var gotAuth string
	var gotPayload ConnectOptions
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/machines" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"endpoint":"10.0.0.2","status":"connected","selected":true}`)
	})

	info, err := client.Connect(context.Background(), ConnectOptions{Endpoint: " 10.0.0.2 ", Password: "secret"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("expected auth header, got %q", gotAuth)
	}
	if gotPayload.Endpoint != "10.0.0.2" || gotPayload.Password != "secret" {
		t.Fatalf("unexpected payload %+v", gotPayload)
	}
	if info.Status != machine.StatusConnected || !info.Selected {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestConnectHandshakeFailureIsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"message":"connection to x failed","error":"connection to x failed","code":"handshake_failed"}`)
	})

	_, err := client.Connect(context.Background(), ConnectOptions{Endpoint: "x"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway || httpErr.Code != "handshake_failed" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
	if httpErr.Message != "connection to x failed" {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

func TestDisconnectPaths(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		paths = append(paths, r.URL.EscapedPath()+"?"+r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Disconnect(context.Background(), "", false); err != nil {
		t.Fatalf("disconnect selected: %v", err)
	}
	if err := client.Disconnect(context.Background(), "printer.local:8080", true); err != nil {
		t.Fatalf("disconnect endpoint: %v", err)
	}
	if paths[0] != "/api/machines?" {
		t.Fatalf("unexpected path %q", paths[0])
	}
	if paths[1] != "/api/machines/printer.local:8080?force=true" {
		t.Fatalf("unexpected path %q", paths[1])
	}
}

func TestSendReturnsReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["code"] != "M115" || payload["machine"] != "a" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		_, _ = io.WriteString(w, `{"machine":"a","response":"FIRMWARE_NAME: RepRapFirmware"}`)
	})

	reply, err := client.Send(context.Background(), "a", "M115")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Response != "FIRMWARE_NAME: RepRapFirmware" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if _, err := client.Send(context.Background(), "", " "); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestStatusAndSelect(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			_, _ = io.WriteString(w, `{"selected":"a","connecting":false,"disconnecting":false,"endpoints":["default","a"],"machines":1}`)
		case "/api/machines/a/select":
			_, _ = io.WriteString(w, `{"selected":"a","endpoints":["default","a"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "missing")
		}
	})

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Selected != "a" || status.Machines != 1 || len(status.Endpoints) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := client.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	_, err = client.Get(context.Background(), "zzz")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Message != "missing" {
		t.Fatalf("expected plain text HTTPError, got %v", err)
	}
}

func TestLogsQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("level") != "warning" || query.Get("machine") != "a" || query.Get("limit") != "5" {
			t.Fatalf("unexpected query %v", query)
		}
		_, _ = io.WriteString(w, `{"entries":[{"level":"warning","message":"slow"}]}`)
	})

	entries, err := client.Logs(context.Background(), LogQuery{Level: "warning", Machine: "a", Limit: 5})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "slow" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func requireLocalListener(t *testing.T) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("local listener unavailable for httptest")
	}
	_ = listener.Close()
}
