package events

import "context"

// EventPublisher is the interface for publishing proxy lifecycle events.
type EventPublisher interface {
	PublishClosed(ctx context.Context, event *ProxyClosedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishClosed is a no-op.
func (p *NoOpPublisher) PublishClosed(_ context.Context, _ *ProxyClosedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ProxyClosedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ProxyClosedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishClosed calls the callback.
func (p *CallbackPublisher) PublishClosed(ctx context.Context, event *ProxyClosedEvent) error {
	return p.callback(ctx, event)
}
