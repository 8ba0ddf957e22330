package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaskevich/EventBus"
)

const localLogPrefix = "events:local_publisher"

// LocalPublisher delivers proxy lifecycle events to in-process subscribers.
type LocalPublisher struct {
	bus   EventBus.Bus
	async bool
}

// LocalPublisherOpts configures a LocalPublisher.
type LocalPublisherOpts struct {
	// Async subscribers run on their own goroutine per event.
	Async bool
}

// NewLocalPublisher creates a LocalPublisher over bus. A nil bus gets a fresh one.
func NewLocalPublisher(bus EventBus.Bus, opts *LocalPublisherOpts) *LocalPublisher {
	if bus == nil {
		bus = EventBus.New()
	}
	p := &LocalPublisher{bus: bus}
	if opts != nil {
		p.async = opts.Async
	}
	return p
}

// OnClosed subscribes fn to closed events of iface. An empty iface subscribes to all interfaces.
func (p *LocalPublisher) OnClosed(iface string, fn func(event *ProxyClosedEvent)) error {
	topic := SubjectProxyClosed
	if iface != "" {
		topic = BuildClosedSubject(iface)
	}
	var err error
	if p.async {
		err = p.bus.SubscribeAsync(topic, fn, false)
	} else {
		err = p.bus.Subscribe(topic, fn)
	}
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", localLogPrefix, topic, err)
	}
	return nil
}

// Wait blocks until async subscribers have handled every published event.
func (p *LocalPublisher) Wait() {
	p.bus.WaitAsync()
}

// PublishClosed delivers the event on the per-interface topic and the global topic.
func (p *LocalPublisher) PublishClosed(_ context.Context, event *ProxyClosedEvent) error {
	if event == nil {
		return fmt.Errorf("%s - nil event", localLogPrefix)
	}
	p.bus.Publish(BuildClosedSubject(event.Interface), event)
	p.bus.Publish(SubjectProxyClosed, event)
	return nil
}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher []EventPublisher

// PublishClosed publishes to every publisher and joins their errors.
func (m MultiPublisher) PublishClosed(ctx context.Context, event *ProxyClosedEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishClosed(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
