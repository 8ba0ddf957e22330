package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/wire"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalClosedSubject overrides the global closed event subject (e.g. from PROXY_EVENT_SUBJECT).
	GlobalClosedSubject string
}

// CommsPublisher publishes proxy lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc                  *comms.Conn
	globalClosedSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := SubjectProxyClosed
	if opts != nil && opts.GlobalClosedSubject != "" {
		globalSubject = opts.GlobalClosedSubject
	}
	return &CommsPublisher{nc: nc, globalClosedSubject: globalSubject}
}

// PublishClosed publishes a ProxyClosedEvent to both the per-interface
// and global closed event subjects.
func (p *CommsPublisher) PublishClosed(_ context.Context, event *ProxyClosedEvent) error {
	data, err := wire.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granularSubject := BuildClosedSubject(event.Interface)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}

	if err := p.nc.Publish(p.globalClosedSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalClosedSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published closed event for %s at %s", commsPublisherLogPrefix, event.Interface, event.Address))
	return nil
}
