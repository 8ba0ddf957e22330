// Package main is the entrypoint for busproxy.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/morezero/busproxy/internal/config"
	"github.com/morezero/busproxy/internal/greeter"
	"github.com/morezero/busproxy/internal/server"
	"github.com/morezero/busproxy/pkg/async"
	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/natsbus"
	"github.com/morezero/busproxy/pkg/wire"
)

const usage = `Usage: busproxy [command]
       busproxy serve                          Start the greeter service (NATS, HTTP health).
       busproxy hello <name>                   Call Greeter.Hello through a proxy.
       busproxy call <address> <action> [json] Send one raw request and print the reply.
       busproxy describe                       Print the greeter interface descriptors.

Commands:
  serve      (default) Start the greeter service, optionally with an embedded bus.
  hello      Greet name through the Greeter proxy at GREETER_ADDRESS.
  call       Send a request with the given action header and JSON object body.
  describe   Show how each Greeter and Cursor method maps onto bus requests.

Environment:
  BUS_URL, SERVICE_NAME, BUS_REQUEST_TIMEOUT
  BUS_CONNECT_TIMEOUT, BUS_RECONNECT_WAIT, BUS_MAX_RECONNECTS, BUS_RETRY_ON_FAILED_CONNECT
  EMBEDDED_BUS, EMBEDDED_BUS_HOST, EMBEDDED_BUS_PORT
  GREETER_ADDRESS, GREETER_VERSION, PROXY_EVENT_SUBJECT
  HTTP_PORT, HEALTH_CHECK_TIMEOUT, LOG_LEVEL
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "hello":
		if len(args) < 2 {
			log.Fatalf("busproxy hello: require a name")
		}
		if err := runHello(args[1]); err != nil {
			log.Fatalf("busproxy hello: %v", err)
		}
		return
	case "call":
		if len(args) < 3 {
			log.Fatalf("busproxy call: require address and action")
		}
		body := ""
		if len(args) > 3 {
			body = args[3]
		}
		if err := runCall(args[1], args[2], body); err != nil {
			log.Fatalf("busproxy call: %v", err)
		}
		return
	case "describe":
		if err := runDescribe(); err != nil {
			log.Fatalf("busproxy describe: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("busproxy: %v", err)
	}
}

func loadClientConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFactory(bus busproxy.Bus, codecs *wire.Registry) (*busproxy.Factory, error) {
	f := busproxy.NewFactory(busproxy.NewFactoryParams{Bus: bus, Codecs: codecs})
	if err := greeter.Register(f); err != nil {
		return nil, fmt.Errorf("register greeter: %w", err)
	}
	return f, nil
}

func dialBus(cfg *config.Config, codecs *wire.Registry) (*natsbus.Bus, error) {
	return natsbus.Dial(
		server.BusConnectOptions(cfg, cfg.BusURL, cfg.ServiceName+"-cli", nil),
		natsbus.Options{Codecs: codecs, DefaultTimeout: cfg.RequestTimeout},
	)
}

func runHello(name string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	codecs := wire.NewRegistry()
	bus, err := dialBus(cfg, codecs)
	if err != nil {
		return err
	}
	defer bus.Close()

	f, err := newFactory(bus, codecs)
	if err != nil {
		return err
	}
	client, err := greeter.NewClient(f, cfg.GreeterAddress, nil)
	if err != nil {
		return err
	}

	done := make(chan async.Result[string], 1)
	client.Hello(name, func(r async.Result[string]) { done <- r })
	r := <-done
	if r.Failed() {
		return r.Err
	}
	fmt.Println(r.Value)
	return nil
}

func runCall(address, action, body string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	params, err := parseBody(body)
	if err != nil {
		return err
	}
	bus, err := dialBus(cfg, nil)
	if err != nil {
		return err
	}
	defer bus.Close()

	type outcome struct {
		msg busproxy.Message
		err error
	}
	done := make(chan outcome, 1)
	opts := busproxy.DeliveryOptions{Headers: map[string]string{busproxy.HeaderAction: action}}
	bus.Send(context.Background(), address, params, opts, func(m busproxy.Message, err error) {
		done <- outcome{m, err}
	})
	o := <-done
	if o.err != nil {
		return o.err
	}
	fmt.Print(formatReply(o.msg))
	return nil
}

// parseBody parses the request body argument. Empty means an empty object.
func parseBody(body string) (wire.Object, error) {
	v, err := wire.DecodePayload([]byte(body))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return wire.Object{}, nil
	}
	obj, ok := v.(wire.Object)
	if !ok {
		return nil, fmt.Errorf("request body must be a JSON object, got %T", v)
	}
	return obj, nil
}

func formatReply(m busproxy.Message) string {
	if addr := m.Headers[busproxy.HeaderProxyAddr]; addr != "" {
		return fmt.Sprintf("chained object at %s\n", addr)
	}
	data, err := wire.EncodePayload(m.Body)
	if err != nil {
		return fmt.Sprintf("%v\n", m.Body)
	}
	return string(data) + "\n"
}

func runDescribe() error {
	f, err := newFactory(nil, nil)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, table := range f.Tables() {
		fmt.Fprintf(&b, "%s\n", table.Interface)
		for _, m := range table.Methods() {
			params := make([]string, 0, len(m.Params))
			for _, p := range m.Params {
				params = append(params, p.Name)
			}
			fmt.Fprintf(&b, "  %-10s %s(%s)\n", m.GoName, m, strings.Join(params, ", "))
		}
	}
	fmt.Print(b.String())
	return nil
}

