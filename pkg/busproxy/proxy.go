package busproxy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/morezero/busproxy/pkg/async"
	"github.com/morezero/busproxy/pkg/descriptor"
	"github.com/morezero/busproxy/pkg/events"
	"github.com/morezero/busproxy/pkg/wire"
)

const logPrefix = "busproxy:proxy"

// Proxy routes calls of one remote interface instance to its bus address.
//
// A Proxy starts open. The first call of a closing method closes it: that call
// is the only one sent, and every later closing call replays its outcome.
// Other calls on a closed proxy fail with ErrProxyClosed without touching the
// bus. Ignored methods never touch the bus.
type Proxy struct {
	factory *Factory
	table   *descriptor.Table
	address string
	options DeliveryOptions

	mu      sync.Mutex
	closed  bool
	closing *closeOutcome
}

func newProxy(f *Factory, table *descriptor.Table, address string, opts *DeliveryOptions) *Proxy {
	p := &Proxy{factory: f, table: table, address: address}
	if opts != nil {
		p.options = DeliveryOptions{Headers: maps.Clone(opts.Headers), Timeout: opts.Timeout}
	}
	return p
}

// Address returns the bus address the proxy sends to.
func (p *Proxy) Address() string { return p.address }

// Interface returns the name of the proxied interface.
func (p *Proxy) Interface() string { return p.table.Interface }

// Closed reports whether a closing method has been called.
func (p *Proxy) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Invoke performs the Go method named method with args, which must match the
// registered signature including the completion handler. The outcome goes to
// the handler exactly once; Invoke itself never waits for the bus. It returns
// p for methods with results and nil for void methods. The error is reserved
// for calls that do not match the interface.
func (p *Proxy) Invoke(method string, args ...any) (*Proxy, error) {
	m, ok := p.table.Method(method)
	if !ok {
		return nil, &ConfigError{Interface: p.table.Interface, Reason: fmt.Sprintf("no method %s", method)}
	}
	if err := p.checkArgs(m, args); err != nil {
		return nil, err
	}

	var handler any
	if m.HasCompletion() {
		handler = args[m.CompletionIndex]
	}
	complete := func(v any, err error) { async.Deliver(handler, v, err) }
	ret := p
	if m.ReturnsVoid {
		ret = nil
	}

	if m.Ignore {
		complete(nil, nil)
		return ret, nil
	}

	p.mu.Lock()
	if p.closed {
		closing := p.closing
		p.mu.Unlock()
		if m.Closes {
			closing.await(complete)
		} else {
			complete(nil, fmt.Errorf("%s - %s: %w", logPrefix, m, ErrProxyClosed))
		}
		return ret, nil
	}
	body, err := p.encodeArgs(m, args)
	if err != nil {
		p.mu.Unlock()
		complete(nil, err)
		return ret, nil
	}
	var closing *closeOutcome
	if m.Closes {
		p.closed = true
		p.closing = &closeOutcome{}
		closing = p.closing
	}
	p.mu.Unlock()

	opts := p.options.withAction(m.Action)
	slog.Debug(fmt.Sprintf("%s - send address=%s %s", logPrefix, p.address, m))
	p.factory.bus.Send(context.Background(), p.address, body, opts, func(reply Message, err error) {
		v, err := p.handleReply(m, reply, err)
		if closing != nil {
			closing.resolve(v, err)
			p.publishClosed(m, err)
		}
		complete(v, err)
	})
	return ret, nil
}

// checkArgs rejects arguments the method signature would not accept. Nil
// arguments pass: they encode as null, and a nil handler discards the outcome.
func (p *Proxy) checkArgs(m *descriptor.MethodDescriptor, args []any) error {
	if len(args) != len(m.Params) {
		return &ConfigError{
			Interface: p.table.Interface,
			Reason:    fmt.Sprintf("%s takes %d arguments, got %d", m.GoName, len(m.Params), len(args)),
		}
	}
	for i, param := range m.Params {
		if args[i] == nil {
			continue
		}
		at := reflect.TypeOf(args[i])
		want := param.Type
		if i == m.CompletionIndex && m.CompletionType != nil {
			want = m.CompletionType
		}
		if !at.AssignableTo(want) {
			return &ConfigError{
				Interface: p.table.Interface,
				Reason:    fmt.Sprintf("%s parameter %s wants %s, got %s", m.GoName, param.Name, want, at),
			}
		}
	}
	return nil
}

// encodeArgs builds the request body from every non-completion argument.
func (p *Proxy) encodeArgs(m *descriptor.MethodDescriptor, args []any) (wire.Object, error) {
	body := make(wire.Object, len(m.Params))
	for i, param := range m.Params {
		if i == m.CompletionIndex {
			continue
		}
		v, err := p.factory.catalog.Encode(args[i], param.Type)
		if err != nil {
			return nil, fmt.Errorf("%s - %s parameter %s: %w", logPrefix, m, param.Name, err)
		}
		body[param.Name] = v
	}
	return body, nil
}

func (p *Proxy) handleReply(m *descriptor.MethodDescriptor, reply Message, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if addr := reply.Headers[HeaderProxyAddr]; addr != "" {
		if m.ResultType == nil {
			return nil, &ConfigError{Interface: p.table.Interface, Reason: fmt.Sprintf("%s replied with a chained address but has no result type", m)}
		}
		slog.Debug(fmt.Sprintf("%s - %s chained to %s", logPrefix, m, addr))
		return p.factory.newClient(m.ResultType, addr, nil)
	}
	return p.factory.catalog.Decode(reply.Body, m.ResultType)
}

func (p *Proxy) publishClosed(m *descriptor.MethodDescriptor, err error) {
	event := &events.ProxyClosedEvent{
		Interface: p.table.Interface,
		Address:   p.address,
		Action:    m.Action,
		Failed:    err != nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if perr := p.factory.publisher.PublishClosed(context.Background(), event); perr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish closed event for %s: %v", logPrefix, p.address, perr))
	}
}

// closeOutcome holds the outcome of the first closing call. Replays arriving
// before it completes wait for it.
type closeOutcome struct {
	mu      sync.Mutex
	done    bool
	value   any
	err     error
	waiters []func(any, error)
}

func (c *closeOutcome) resolve(v any, err error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done, c.value, c.err = true, v, err
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		w(v, err)
	}
}

func (c *closeOutcome) await(fn func(any, error)) {
	c.mu.Lock()
	if !c.done {
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
		return
	}
	v, err := c.value, c.err
	c.mu.Unlock()
	fn(v, err)
}
