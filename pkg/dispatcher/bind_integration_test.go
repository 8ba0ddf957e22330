package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/natsbus"
	"github.com/morezero/busproxy/pkg/wire"
)

const bindTestPrefix = "dispatcher:bind_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", bindTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", bindTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", bindTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func roundTrip(t *testing.T, bus *natsbus.Bus, address, action string, params wire.Object) (busproxy.Message, error) {
	t.Helper()
	type outcome struct {
		msg busproxy.Message
		err error
	}
	ch := make(chan outcome, 1)
	opts := busproxy.DeliveryOptions{Headers: map[string]string{busproxy.HeaderAction: action}}
	bus.Send(context.Background(), address, params, opts, func(m busproxy.Message, err error) {
		ch <- outcome{m, err}
	})
	select {
	case o := <-ch:
		return o.msg, o.err
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timed out waiting for reply", bindTestPrefix)
	}
	return busproxy.Message{}, nil
}

func TestBind_ServesActions(t *testing.T) {
	nc, cleanup := startTestServer(t, 14350)
	defer cleanup()

	d := newTestDispatcher(t, "2.1.0")
	d.Handle("open", func(context.Context, wire.Object) (any, error) {
		return Chain{Address: NewAddress("svc.cursor")}, nil
	})
	d.Handle("fail", func(context.Context, wire.Object) (any, error) {
		return nil, wire.NewServiceError(30, "oops", wire.Object{"test": "val"})
	})

	sub, err := Bind(nc, "svc.greeter", d)
	if err != nil {
		t.Fatalf("%s - Bind failed: %v", bindTestPrefix, err)
	}
	defer sub.Unsubscribe()

	bus := natsbus.New(nc, natsbus.Options{Codecs: d.Codecs()})

	msg, err := roundTrip(t, bus, "svc.greeter", "hello", wire.Object{"name": "vert.x"})
	if err != nil || msg.Body != "hello vert.x" {
		t.Errorf("%s - hello = %#v, %v", bindTestPrefix, msg.Body, err)
	}

	msg, err = roundTrip(t, bus, "svc.greeter", "open", nil)
	if err != nil {
		t.Fatalf("%s - open failed: %v", bindTestPrefix, err)
	}
	if addr := msg.Headers[busproxy.HeaderProxyAddr]; len(addr) <= len("svc.cursor.") {
		t.Errorf("%s - unexpected chain address %q", bindTestPrefix, addr)
	}

	_, err = roundTrip(t, bus, "svc.greeter", "fail", nil)
	var se *wire.ServiceError
	if !errors.As(err, &se) || se.Code != 30 || se.DebugInfo["test"] != "val" {
		t.Errorf("%s - expected failure code 30, got %v", bindTestPrefix, err)
	}

	_, err = roundTrip(t, bus, "svc.greeter", "missing", nil)
	if !errors.As(err, &se) || se.Code != wire.FailureUnknownAction {
		t.Errorf("%s - expected unknown action, got %v", bindTestPrefix, err)
	}
}

func TestBind_InvalidBody(t *testing.T) {
	nc, cleanup := startTestServer(t, 14351)
	defer cleanup()

	sub, err := Bind(nc, "svc.strict", newTestDispatcher(t, ""))
	if err != nil {
		t.Fatalf("%s - Bind failed: %v", bindTestPrefix, err)
	}
	defer sub.Unsubscribe()

	for name, data := range map[string]string{
		"not json":      "{nope",
		"not an object": `["a"]`,
	} {
		t.Run(name, func(t *testing.T) {
			req := comms.NewMsg("svc.strict")
			req.Header.Set(busproxy.HeaderAction, "hello")
			req.Data = []byte(data)
			reply, err := nc.RequestMsg(req, 2*time.Second)
			if err != nil {
				t.Fatalf("%s - request failed: %v", bindTestPrefix, err)
			}
			if reply.Header.Get(natsbus.HeaderFailureCodec) != wire.ServiceErrorCodecName {
				t.Fatalf("%s - expected failure reply, headers %v", bindTestPrefix, reply.Header)
			}
			v, err := wire.ServiceErrorCodec{}.Decode(reply.Data)
			if err != nil {
				t.Fatalf("%s - decode failed: %v", bindTestPrefix, err)
			}
			if code := v.(*wire.ServiceError).Code; code != wire.FailureInvalidRequest {
				t.Errorf("%s - code = %d, want %d", bindTestPrefix, code, wire.FailureInvalidRequest)
			}
		})
	}
}
