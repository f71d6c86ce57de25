package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]string
}

func newFakeHub(t *testing.T, responses map[string]string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if r.Body != nil {
			payload, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(payload, &recorded.Body)
		}
		requests = append(requests, recorded)
		if r.Header.Get("Authorization") != "Bearer t0ken" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"unauthorized","error":"unauthorized","code":"unauthorized"}`)
			return
		}
		body, ok := responses[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"endpoint not registered","error":"endpoint not registered"}`)
			return
		}
		if body == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func runCLI(t *testing.T, server *httptest.Server, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--url", server.URL, "--token", "t0ken"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestStatusCommand(t *testing.T) {
	server, _ := newFakeHub(t, map[string]string{
		"GET /api/status": `{"selected":"a","connecting":true,"connectingEndpoint":"b","disconnecting":false,"endpoints":["default","a"],"machines":1}`,
	})
	code, out, errOut := runCLI(t, server, "status")
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, errOut)
	}
	for _, want := range []string{"selected:      a", "machines:      1", "connecting:    b", "disconnecting: idle"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestListCommandMarksSelected(t *testing.T) {
	server, _ := newFakeHub(t, map[string]string{
		"GET /api/machines": `[{"endpoint":"default","status":"offline","selected":false,"state":{"board":{}}},` +
			`{"endpoint":"10.0.0.2","status":"connected","selected":true,"state":{"board":{"type":"duetwifi10","name":"Duet WiFi"},"firmwareName":"RepRapFirmware","firmwareVersion":"3.4"}}]`,
	})
	code, out, errOut := runCLI(t, server, "list")
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "Duet WiFi") || !strings.Contains(lines[2], "RepRapFirmware 3.4") {
		t.Fatalf("unexpected selected row %q", lines[2])
	}
}

func TestConnectCommandSendsCredentials(t *testing.T) {
	server, requests := newFakeHub(t, map[string]string{
		"POST /api/machines": `{"endpoint":"10.0.0.2","status":"connected","selected":true,"state":{"board":{"type":"duet3mb6hc","name":"Duet 3 MB6HC"}}}`,
	})
	code, out, errOut := runCLI(t, server, "connect", "10.0.0.2", "--password", "secret")
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, errOut)
	}
	if !strings.Contains(out, "connected to 10.0.0.2 (Duet 3 MB6HC)") {
		t.Fatalf("unexpected output %q", out)
	}
	body := (*requests)[0].Body
	if body["endpoint"] != "10.0.0.2" || body["password"] != "secret" {
		t.Fatalf("unexpected request body %+v", body)
	}
}

func TestDisconnectCommandForce(t *testing.T) {
	server, requests := newFakeHub(t, map[string]string{
		"DELETE /api/machines/a": "",
	})
	code, out, errOut := runCLI(t, server, "disconnect", "a", "--force")
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, errOut)
	}
	if out != "disconnected a\n" {
		t.Fatalf("unexpected output %q", out)
	}
	if (*requests)[0].Query != "force=true" {
		t.Fatalf("expected force query, got %q", (*requests)[0].Query)
	}
}

func TestSendCommandJoinsArgs(t *testing.T) {
	server, requests := newFakeHub(t, map[string]string{
		"POST /api/code": `{"machine":"a","response":"ok\n"}`,
	})
	code, out, errOut := runCLI(t, server, "send", "G1", "X10", "F3000", "--machine", "a")
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, errOut)
	}
	if out != "ok\n" {
		t.Fatalf("unexpected output %q", out)
	}
	body := (*requests)[0].Body
	if body["code"] != "G1 X10 F3000" || body["machine"] != "a" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCommandReportsServerError(t *testing.T) {
	server, _ := newFakeHub(t, nil)
	code, _, errOut := runCLI(t, server, "select", "zzz")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "endpoint not registered") {
		t.Fatalf("expected server message, got %q", errOut)
	}
}

func TestCommandRejectsBadArgs(t *testing.T) {
	server, requests := newFakeHub(t, nil)
	if code, _, _ := runCLI(t, server, "select"); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if len(*requests) != 0 {
		t.Fatalf("expected no request, got %d", len(*requests))
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	if code := run(context.Background(), []string{"version"}, &stdout, io.Discard); code != 0 {
		t.Fatalf("expected success, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "machinehub ") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
