// Package server orchestrates all components: NATS bus, greeter service, proxy factory, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/internal/config"
	"github.com/morezero/busproxy/internal/greeter"
	"github.com/morezero/busproxy/pkg/async"
	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/descriptor"
	"github.com/morezero/busproxy/pkg/events"
	"github.com/morezero/busproxy/pkg/natsbus"
	"github.com/morezero/busproxy/pkg/wire"
)

const logPrefix = "server:server"

// Server is the busproxy orchestrator.
type Server struct {
	cfg        *config.Config
	ns         *commsserver.Server
	nc         *comms.Conn
	svc        *greeter.Service
	factory    *busproxy.Factory
	httpServer *http.Server

	// probe performs one greeter round trip through a proxy.
	probe func(ctx context.Context) error
	// tables lists the registered interface descriptors.
	tables func() []*descriptor.Table
	// closed counts proxies of this server's factory that completed a closing call.
	closed atomic.Int64
	busUp  atomic.Bool
}

// BusConnectOptions maps the bus settings of cfg onto connection options.
func BusConnectOptions(cfg *config.Config, url, name string, onStateChange func(connected bool)) natsbus.ConnectOptions {
	return natsbus.ConnectOptions{
		URL:                  url,
		Name:                 name,
		Timeout:              cfg.BusConnectTimeout,
		ReconnectWait:        cfg.BusReconnectWait,
		MaxReconnects:        cfg.BusMaxReconnects,
		RetryOnFailedConnect: cfg.BusRetryOnFailedConnect,
		OnStateChange:        onStateChange,
	}
}

// New creates a Server. Call Start to bring it up.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	slog.Info(fmt.Sprintf("%s - Starting busproxy", logPrefix))

	s := New(cfg)
	if err := s.Start(); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	s.Stop()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Start brings up the bus connection, the greeter service and the HTTP
// endpoint. On failure everything started so far is stopped again.
func (s *Server) Start() error {
	cfg := s.cfg

	// Step 1: Embedded bus, if requested
	busURL := cfg.BusURL
	if cfg.EmbeddedBus {
		ns, err := startEmbeddedBus(cfg.EmbeddedBusHost, cfg.EmbeddedBusPort)
		if err != nil {
			return err
		}
		s.ns = ns
		busURL = ns.ClientURL()
	}

	// Step 2: Connect to NATS
	nc, err := natsbus.Connect(BusConnectOptions(cfg, busURL, cfg.ServiceName, s.busUp.Store))
	if err != nil {
		s.Stop()
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 3: Serve the greeter
	codecs := wire.NewRegistry()
	svc, err := greeter.NewService(greeter.NewServiceParams{
		Conn:           nc,
		Address:        cfg.GreeterAddress,
		Version:        cfg.GreeterVersion,
		Codecs:         codecs,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		s.Stop()
		return fmt.Errorf("%s - failed to create greeter service: %w", logPrefix, err)
	}
	if err := svc.Start(); err != nil {
		s.Stop()
		return fmt.Errorf("%s - failed to start greeter service: %w", logPrefix, err)
	}
	s.svc = svc

	// Step 4: Proxy factory for the health probe
	local := events.NewLocalPublisher(nil, nil)
	if err := local.OnClosed("", s.onProxyClosed); err != nil {
		s.Stop()
		return err
	}
	publisher := events.MultiPublisher{
		events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalClosedSubject: cfg.ProxyEventSubject}),
		local,
	}
	factory := busproxy.NewFactory(busproxy.NewFactoryParams{
		Bus:       natsbus.New(nc, natsbus.Options{Codecs: codecs, DefaultTimeout: cfg.RequestTimeout}),
		Codecs:    codecs,
		Publisher: publisher,
	})
	if err := greeter.Register(factory); err != nil {
		s.Stop()
		return fmt.Errorf("%s - failed to register greeter: %w", logPrefix, err)
	}
	client, err := greeter.NewClient(factory, cfg.GreeterAddress, nil)
	if err != nil {
		s.Stop()
		return fmt.Errorf("%s - failed to create greeter client: %w", logPrefix, err)
	}
	s.factory = factory
	s.tables = factory.Tables
	s.probe = func(ctx context.Context) error { return probeGreeter(ctx, client) }

	// Step 5: Start HTTP health server
	if cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
			if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}

	slog.Info(fmt.Sprintf("%s - busproxy is ready, greeter at %s", logPrefix, cfg.GreeterAddress))
	return nil
}

// Stop shuts down whatever Start brought up, in reverse order.
func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
		s.httpServer = nil
	}
	if s.svc != nil {
		s.svc.Stop()
		s.svc = nil
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
		s.nc = nil
	}
	if s.ns != nil {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
		s.ns = nil
	}
}

// BusURL returns the URL clients reach the bus at.
func (s *Server) BusURL() string {
	if s.ns != nil {
		return s.ns.ClientURL()
	}
	return s.cfg.BusURL
}

func startEmbeddedBus(host string, port int) (*commsserver.Server, error) {
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create embedded bus: %w", logPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - embedded bus on %s:%d not ready", logPrefix, host, port)
	}
	slog.Info(fmt.Sprintf("%s - Embedded bus listening at %s", logPrefix, ns.ClientURL()))
	return ns, nil
}

func (s *Server) onProxyClosed(event *events.ProxyClosedEvent) {
	n := s.closed.Add(1)
	slog.Debug(fmt.Sprintf("%s - proxy closed: %s at %s via %s (failed=%t, total=%d)",
		logPrefix, event.Interface, event.Address, event.Action, event.Failed, n))
}

// probeGreeter sends one Hello through the proxy, then opens a history cursor
// and closes it again so chained proxies are exercised as well.
func probeGreeter(ctx context.Context, client greeter.Greeter) error {
	hello := make(chan async.Result[string], 1)
	client.Hello("health", func(r async.Result[string]) { hello <- r })
	select {
	case r := <-hello:
		if r.Failed() {
			return r.Err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	opened := make(chan async.Result[greeter.Cursor], 1)
	client.History(1, func(r async.Result[greeter.Cursor]) { opened <- r })
	select {
	case r := <-opened:
		if r.Failed() {
			return r.Err
		}
		return r.Value.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// healthOutput is the /health response body.
type healthOutput struct {
	Status    string `json:"status"`
	Greeter   bool   `json:"greeter"`
	Bus       bool   `json:"bus"`
	Closed    int64  `json:"closedProxies"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Handler returns the HTTP handler serving the home page, /health and /ready.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return mux
}

func (s *Server) health(ctx context.Context) *healthOutput {
	h := &healthOutput{
		Status:    "healthy",
		Greeter:   true,
		Bus:       s.busUp.Load(),
		Closed:    s.closed.Load(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.probe == nil {
		h.Status, h.Greeter, h.Error = "unhealthy", false, "not started"
		return h
	}
	if err := s.probe(ctx); err != nil {
		h.Status, h.Greeter, h.Error = "unhealthy", false, err.Error()
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

// homePageTemplate is the HTML for the home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>busproxy</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>busproxy</h1>
  <p class="meta">Greeter at {{.Address}}, health and registered proxy interfaces.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{if .Health.Error}}<p class="error">{{.Health.Error}}</p>{{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Interfaces</h2>
    {{if not .Tables}}
    <p>No interfaces registered.</p>
    {{else}}
    {{range .Tables}}
    <h3>{{.Interface}}</h3>
    <table>
      <thead>
        <tr><th>Method</th><th>Action</th><th>Parameters</th><th>Flags</th></tr>
      </thead>
      <tbody>
        {{range .Methods}}
        <tr>
          <td>{{.GoName}}</td>
          <td>{{.Action}}</td>
          <td>{{range .Params}}{{.Name}} {{end}}</td>
          <td>{{if .Ignore}}ignore {{end}}{{if .Closes}}closes {{end}}{{if .ResultIsChainable}}chainable{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Address string
	Health  *healthOutput
	Tables  []*descriptor.Table
}

// handleHome returns an HTTP handler for the home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Address: s.cfg.GreeterAddress, Health: s.health(ctx)}
		if s.tables != nil {
			data.Tables = s.tables()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
