package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

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
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestCommsPublisher_PublishClosed_BothSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14330)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	granular := make(chan *ProxyClosedEvent, 1)
	global := make(chan *ProxyClosedEvent, 1)
	for subject, ch := range map[string]chan *ProxyClosedEvent{
		"busproxy.closed.Greeter": granular,
		"busproxy.closed":         global,
	} {
		ch := ch
		sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
			var event ProxyClosedEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				t.Errorf("events:comms_publisher_integration_test - failed to unmarshal: %v", err)
				return
			}
			ch <- &event
		})
		if err != nil {
			t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	event := &ProxyClosedEvent{
		Interface: "Greeter",
		Address:   "greeter.v1",
		Action:    "close",
		Failed:    true,
		Error:     "boom",
		Timestamp: "2025-01-01T00:00:00Z",
	}
	if err := publisher.PublishClosed(context.Background(), event); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishClosed failed: %v", err)
	}
	nc.Flush()

	for name, ch := range map[string]chan *ProxyClosedEvent{"granular": granular, "global": global} {
		select {
		case got := <-ch:
			if got.Address != "greeter.v1" || !got.Failed || got.Error != "boom" {
				t.Errorf("events:comms_publisher_integration_test - %s event = %+v", name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("events:comms_publisher_integration_test - timeout waiting for %s event", name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14331)
	defer cleanup()

	customSubject := "custom.proxy.closed"
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{GlobalClosedSubject: customSubject})

	received := make(chan *ProxyClosedEvent, 1)
	sub, err := nc.Subscribe(customSubject, func(msg *comms.Msg) {
		var event ProxyClosedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	err = publisher.PublishClosed(context.Background(), &ProxyClosedEvent{Interface: "Cursor", Address: "cursor.1"})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishClosed failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.Interface != "Cursor" {
			t.Errorf("events:comms_publisher_integration_test - Interface = %q, want Cursor", got.Interface)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for custom subject event")
	}
}

func TestNewCommsPublisher_NilOpts(t *testing.T) {
	nc, cleanup := startTestServer(t, 14332)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	if publisher.globalClosedSubject != "busproxy.closed" {
		t.Errorf("events:comms_publisher_integration_test - globalClosedSubject = %q, want %q",
			publisher.globalClosedSubject, "busproxy.closed")
	}

	publisher = NewCommsPublisher(nc, &CommsPublisherOpts{GlobalClosedSubject: ""})
	if publisher.globalClosedSubject != "busproxy.closed" {
		t.Errorf("events:comms_publisher_integration_test - empty override should use default, got %q",
			publisher.globalClosedSubject)
	}
}
