package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/natsbus"
	"github.com/morezero/busproxy/pkg/wire"
)

const bindLogPrefix = "dispatcher:bind"

// Bind subscribes d to address on nc. Every message is decoded, dispatched and
// answered with a value, a chain address or a failure. Unsubscribe the
// returned subscription to stop serving.
func Bind(nc *comms.Conn, address string, d *Dispatcher) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(address, func(msg *comms.Msg) {
		serve(context.Background(), d, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", bindLogPrefix, address, err)
	}
	slog.Info(fmt.Sprintf("%s - %s serving %d actions at %s", bindLogPrefix, d.name, d.Actions(), address))
	return sub, nil
}

func serve(ctx context.Context, d *Dispatcher, msg *comms.Msg) {
	if msg.Reply == "" {
		slog.Warn(fmt.Sprintf("%s - dropping request on %s without reply subject", bindLogPrefix, msg.Subject))
		return
	}

	req := &Request{Headers: make(map[string]string, len(msg.Header))}
	for k, v := range msg.Header {
		if len(v) > 0 {
			req.Headers[k] = v[0]
		}
	}

	body, err := wire.DecodePayload(msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", bindLogPrefix, err))
		respond(d, msg, failure(wire.FailureInvalidRequest, "Failed to decode request"))
		return
	}
	if body != nil {
		params, ok := body.(wire.Object)
		if !ok {
			respond(d, msg, failure(wire.FailureInvalidRequest, fmt.Sprintf("Request body must be an object, got %T", body)))
			return
		}
		req.Params = params
	}

	respond(d, msg, d.Dispatch(ctx, req))
}

func respond(d *Dispatcher, msg *comms.Msg, resp *Response) {
	var err error
	switch {
	case resp.Failure != nil:
		err = natsbus.ReplyFailure(msg, d.codecs, resp.Failure)
	case resp.Chain != "":
		err = natsbus.ReplyChain(msg, resp.Chain)
	default:
		err = natsbus.Reply(msg, resp.Value, nil)
	}
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond on %s: %v", bindLogPrefix, msg.Subject, err))
	}
}

// NewAddress returns a unique address under prefix for a chained remote object.
func NewAddress(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, uuid.NewString())
}
