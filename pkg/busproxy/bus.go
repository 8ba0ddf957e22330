// Package busproxy turns calls on a Go interface into request/reply exchanges
// over a message bus.
//
// Each remote interface is registered once with a Factory together with an
// explicit configuration record (parameter names, ignore and close markers)
// and a constructor for its client type. A client type embeds or holds a
// *Proxy and implements the interface by forwarding every method to
// Proxy.Invoke:
//
//	func (c *greeterClient) Hello(name string, h async.Handler[string]) Greeter {
//		c.p.Invoke("Hello", name, h)
//		return c
//	}
package busproxy

import (
	"context"
	"maps"
	"time"
)

// Header names understood by proxies and services.
const (
	// HeaderAction names the remote method a request is for.
	HeaderAction = "action"
	// HeaderProxyAddr on a reply hands back the address of a chained remote object.
	HeaderProxyAddr = "proxyaddr"
)

// Message is a reply received from the bus.
type Message struct {
	Headers map[string]string
	Body    any
}

// DeliveryOptions are per-request transport settings.
type DeliveryOptions struct {
	Headers map[string]string
	// Timeout bounds the wait for a reply. Zero uses the bus default.
	Timeout time.Duration
}

// withAction returns a copy with the action header set. The receiver is left untouched.
func (o DeliveryOptions) withAction(action string) DeliveryOptions {
	headers := make(map[string]string, len(o.Headers)+1)
	maps.Copy(headers, o.Headers)
	headers[HeaderAction] = action
	return DeliveryOptions{Headers: headers, Timeout: o.Timeout}
}

// Bus sends a request to an address and reports the reply or failure to done.
// Send must not block on the reply; done may run on any goroutine.
type Bus interface {
	Send(ctx context.Context, address string, body any, opts DeliveryOptions, done func(Message, error))
}
