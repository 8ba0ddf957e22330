package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/morezero/busproxy/internal/config"
	"github.com/morezero/busproxy/internal/greeter"
	"github.com/morezero/busproxy/pkg/descriptor"
	"github.com/morezero/busproxy/pkg/events"
)

const serverTestPrefix = "server:server_test"

// testServer returns a Server with a stub probe and test config for HTTP handler tests.
func testServer(t *testing.T, probe func(context.Context) error) *Server {
	t.Helper()
	cfg := &config.Config{
		GreeterAddress:     "svc.greeter",
		HealthCheckTimeout: 5 * time.Second,
	}
	return &Server{cfg: cfg, probe: probe}
}

func greeterTables(t *testing.T) func() []*descriptor.Table {
	t.Helper()
	gt, err := descriptor.Build(reflect.TypeOf((*greeter.Greeter)(nil)).Elem(), greeter.GreeterConfig, nil)
	if err != nil {
		t.Fatalf("%s - Build failed: %v", serverTestPrefix, err)
	}
	return func() []*descriptor.Table { return []*descriptor.Table{gt} }
}

func TestHealthHandler_Healthy(t *testing.T) {
	s := testServer(t, func(context.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - health (healthy) got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out healthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if out.Status != "healthy" || !out.Greeter {
		t.Errorf("%s - health = %+v, want healthy", serverTestPrefix, out)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
	}{
		{name: "probe fails", probe: func(context.Context) error { return errors.New("no responders") }},
		{name: "not started", probe: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, tt.probe)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("%s - health (unhealthy) got status %d, want 503", serverTestPrefix, rec.Code)
			}
			var out healthOutput
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
			}
			if out.Greeter || out.Error == "" {
				t.Errorf("%s - health = %+v, want failed greeter with error", serverTestPrefix, out)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - ready got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	if out["status"] != "ready" {
		t.Errorf("%s - status = %q, want ready", serverTestPrefix, out["status"])
	}
}

func TestHandleHome_Success(t *testing.T) {
	s := testServer(t, func(context.Context) error { return nil })
	s.tables = greeterTables(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handleHome().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - handleHome got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q, want text/html", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	for _, want := range []string{"healthy", "svc.greeter", "Greeter", "greetAll", "closes", "ignore"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - body should contain %q", serverTestPrefix, want)
		}
	}
}

func TestHandleHome_NoTables(t *testing.T) {
	s := testServer(t, func(context.Context) error { return context.DeadlineExceeded })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handleHome().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "No interfaces registered") || !strings.Contains(body, "context deadline exceeded") {
		t.Errorf("%s - body should show the probe error and no interfaces", serverTestPrefix)
	}
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	rec := httptest.NewRecorder()
	s.handleHome().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - handleHome(/other) got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestServer_StartEmbedded(t *testing.T) {
	cfg := &config.Config{
		ServiceName:        "busproxy-test",
		RequestTimeout:     5 * time.Second,
		EmbeddedBus:        true,
		EmbeddedBusHost:    "127.0.0.1",
		EmbeddedBusPort:    14370,
		GreeterAddress:     "svc.greeter.test",
		GreeterVersion:     "1.0.0",
		HealthCheckTimeout: 5 * time.Second,
	}
	s := New(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("%s - Start failed: %v", serverTestPrefix, err)
	}
	defer s.Stop()

	if !strings.HasSuffix(s.BusURL(), ":14370") {
		t.Errorf("%s - BusURL = %q", serverTestPrefix, s.BusURL())
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("%s - health got status %d, body %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var out healthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if !out.Bus {
		t.Errorf("%s - health should report the bus connected: %+v", serverTestPrefix, out)
	}

	// The health check closes the cursor it opened; its closed event arrives with the reply.
	deadline := time.Now().Add(5 * time.Second)
	for s.closed.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.closed.Load(); got != 1 {
		t.Errorf("%s - closed proxies after one health check = %d, want 1", serverTestPrefix, got)
	}

	if got := len(s.tables()); got != 2 {
		t.Errorf("%s - expected 2 registered interfaces, got %d", serverTestPrefix, got)
	}
}

func TestBusConnectOptions(t *testing.T) {
	cfg := &config.Config{
		BusConnectTimeout:       3 * time.Second,
		BusReconnectWait:        time.Second,
		BusMaxReconnects:        -1,
		BusRetryOnFailedConnect: true,
	}
	var states []bool
	opts := BusConnectOptions(cfg, "nats://bus:4222", "busproxy", func(up bool) { states = append(states, up) })
	if opts.URL != "nats://bus:4222" || opts.Name != "busproxy" {
		t.Errorf("%s - url/name = %s/%s", serverTestPrefix, opts.URL, opts.Name)
	}
	if opts.Timeout != 3*time.Second || opts.ReconnectWait != time.Second {
		t.Errorf("%s - timeout=%v wait=%v", serverTestPrefix, opts.Timeout, opts.ReconnectWait)
	}
	if opts.MaxReconnects != -1 || !opts.RetryOnFailedConnect {
		t.Errorf("%s - maxReconnects=%d retry=%v", serverTestPrefix, opts.MaxReconnects, opts.RetryOnFailedConnect)
	}
	opts.OnStateChange(true)
	if len(states) != 1 || !states[0] {
		t.Errorf("%s - state callback not wired: %v", serverTestPrefix, states)
	}
}

func TestHealthHandler_CountsClosedProxies(t *testing.T) {
	s := testServer(t, func(context.Context) error { return nil })
	s.onProxyClosed(&events.ProxyClosedEvent{Interface: "Cursor", Address: "svc.greeter.cursor.1", Action: "close"})
	s.onProxyClosed(&events.ProxyClosedEvent{Interface: "Greeter", Address: "svc.greeter", Action: "shutdown"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out healthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if out.Closed != 2 {
		t.Errorf("%s - closedProxies = %d, want 2", serverTestPrefix, out.Closed)
	}
}
