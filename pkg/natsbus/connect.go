// Package natsbus carries proxy requests over NATS request/reply.
package natsbus

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "natsbus:connect"

// Connection defaults, used for zero ConnectOptions fields.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultMaxReconnects  = 60
)

// ConnectOptions describes how a proxy process reaches the bus.
type ConnectOptions struct {
	URL string
	// Name identifies the client in server monitoring.
	Name string

	Timeout       time.Duration
	ReconnectWait time.Duration
	// MaxReconnects of zero means DefaultMaxReconnects. Negative retries forever.
	MaxReconnects int
	// RetryOnFailedConnect returns a reconnecting connection instead of an
	// error when the bus is not reachable yet.
	RetryOnFailedConnect bool

	// OnStateChange reports connectivity. It may repeat a state and runs on
	// the connection's callback goroutine.
	OnStateChange func(connected bool)
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultConnectTimeout
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = DefaultReconnectWait
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	return o
}

func (o ConnectOptions) natsOptions() []comms.Option {
	notify := func(connected bool) {
		if o.OnStateChange != nil {
			o.OnStateChange(connected)
		}
	}
	return []comms.Option{
		comms.Name(o.Name),
		comms.Timeout(o.Timeout),
		comms.ReconnectWait(o.ReconnectWait),
		comms.MaxReconnects(o.MaxReconnects),
		comms.RetryOnFailedConnect(o.RetryOnFailedConnect),
		comms.ConnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s connected to %s", logPrefix, o.Name, nc.ConnectedUrl()))
			notify(true)
		}),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - %s disconnected from bus: %v", logPrefix, o.Name, err))
			notify(false)
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, o.Name, nc.ConnectedUrl()))
			notify(true)
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s bus connection closed", logPrefix, o.Name))
			notify(false)
		}),
	}
}

// Connect opens a NATS connection for proxies and services.
func Connect(opts ConnectOptions) (*comms.Conn, error) {
	opts = opts.withDefaults()
	slog.Info(fmt.Sprintf("%s - Connecting to bus at %s as %s", logPrefix, opts.URL, opts.Name))

	nc, err := comms.Connect(opts.URL, opts.natsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to bus at %s: %w", logPrefix, opts.URL, err)
	}
	if nc.IsConnected() && opts.OnStateChange != nil {
		opts.OnStateChange(true)
	}
	return nc, nil
}

// Dial connects and returns a Bus that owns the connection. Close the Bus to
// drain it.
func Dial(connect ConnectOptions, opts Options) (*Bus, error) {
	nc, err := Connect(connect)
	if err != nil {
		return nil, err
	}
	b := New(nc, opts)
	b.owned = true
	return b, nil
}
