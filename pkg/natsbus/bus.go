package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/wire"
)

const busLogPrefix = "natsbus:bus"

// HeaderFailureCodec marks a failure reply and names the codec of its payload.
const HeaderFailureCodec = "failure-codec"

// DefaultTimeout bounds a request when neither the call nor the bus sets one.
const DefaultTimeout = 30 * time.Second

// Options configures a Bus.
type Options struct {
	// Codecs decodes failure replies. Defaults to a registry holding the
	// service error codec. Share it with the busproxy.Factory.
	Codecs *wire.Registry
	// DefaultTimeout applies to requests without their own timeout.
	DefaultTimeout time.Duration
}

// Bus implements busproxy.Bus on a NATS connection. The address of a proxy is
// the subject its requests are published to.
type Bus struct {
	nc      *comms.Conn
	codecs  *wire.Registry
	timeout time.Duration
	owned   bool
}

var _ busproxy.Bus = (*Bus)(nil)

// New creates a Bus.
func New(nc *comms.Conn, opts Options) *Bus {
	codecs := opts.Codecs
	if codecs == nil {
		codecs = wire.NewRegistry()
	}
	codecs.EnsureDefault(wire.ServiceErrorCodec{})
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bus{nc: nc, codecs: codecs, timeout: timeout}
}

// Codecs returns the registry failure replies are decoded with.
func (b *Bus) Codecs() *wire.Registry { return b.codecs }

// Conn returns the underlying connection.
func (b *Bus) Conn() *comms.Conn { return b.nc }

// Close drains the connection if the Bus opened it with Dial. Replies still in
// flight are delivered first.
func (b *Bus) Close() error {
	if !b.owned || b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("%s - failed to drain bus connection: %w", busLogPrefix, err)
	}
	return nil
}

// Send publishes body as JSON to address and waits for the reply on its own
// goroutine. Transport errors such as comms.ErrNoResponders and
// context.DeadlineExceeded reach done unchanged.
func (b *Bus) Send(ctx context.Context, address string, body any, opts busproxy.DeliveryOptions, done func(busproxy.Message, error)) {
	data, err := wire.EncodePayload(body)
	if err != nil {
		go done(busproxy.Message{}, fmt.Errorf("%s - failed to encode request for %s: %w", busLogPrefix, address, err))
		return
	}

	msg := comms.NewMsg(address)
	msg.Data = data
	for k, v := range opts.Headers {
		msg.Header.Set(k, v)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}

	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		slog.Debug(fmt.Sprintf("%s - request subject=%s action=%s", busLogPrefix, address, opts.Headers[busproxy.HeaderAction]))
		reply, err := b.nc.RequestMsgWithContext(reqCtx, msg)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - request to %s failed: %v", busLogPrefix, address, err))
			done(busproxy.Message{}, err)
			return
		}
		done(b.readReply(reply))
	}()
}

func (b *Bus) readReply(reply *comms.Msg) (busproxy.Message, error) {
	headers := flattenHeaders(reply.Header)
	if name, ok := headers[HeaderFailureCodec]; ok {
		return busproxy.Message{Headers: headers}, b.decodeFailure(name, reply.Data)
	}
	body, err := wire.DecodePayload(reply.Data)
	if err != nil {
		return busproxy.Message{}, err
	}
	return busproxy.Message{Headers: headers, Body: body}, nil
}

// decodeFailure turns a failure payload back into the error the service
// replied with. Unknown codec names decode as a service error.
func (b *Bus) decodeFailure(name string, data []byte) error {
	codec, ok := b.codecs.Lookup(name)
	if !ok {
		slog.Warn(fmt.Sprintf("%s - unknown failure codec %q, decoding as %s", busLogPrefix, name, wire.ServiceErrorCodecName))
		codec = wire.ServiceErrorCodec{}
	}
	v, err := codec.Decode(data)
	if err != nil {
		return err
	}
	if failure, ok := v.(error); ok {
		return failure
	}
	return wire.NewServiceError(wire.FailureInternal, fmt.Sprintf("codec %s decoded %T, not an error", name, v), nil)
}

func flattenHeaders(h comms.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// IsTransportError reports whether err was raised by the bus rather than
// replied by a service.
func IsTransportError(err error) bool {
	return errors.Is(err, comms.ErrNoResponders) ||
		errors.Is(err, comms.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, comms.ErrConnectionClosed)
}
