package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/morezero/busproxy/pkg/typerules"
	"github.com/morezero/busproxy/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	// Name is used in logs.
	Name string
	// Version, if set, is checked against the constraint in a request's version header.
	Version string
	// Catalog encodes handler results. Defaults to an empty catalog.
	Catalog *typerules.Catalog
	// Codecs encodes failures. Defaults to a registry holding the service error codec.
	Codecs *wire.Registry
	// RequestTimeout bounds each handler call. Zero means no bound.
	RequestTimeout time.Duration
}

// Dispatcher routes requests to registered handlers by action.
type Dispatcher struct {
	name    string
	version *semver.Version
	catalog *typerules.Catalog
	codecs  *wire.Registry
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) (*Dispatcher, error) {
	d := &Dispatcher{
		name:     params.Name,
		catalog:  params.Catalog,
		codecs:   params.Codecs,
		timeout:  params.RequestTimeout,
		handlers: make(map[string]HandlerFunc),
	}
	if params.Version != "" {
		v, err := semver.NewVersion(params.Version)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid version %q for %s: %w", logPrefix, params.Version, params.Name, err)
		}
		d.version = v
	}
	if d.catalog == nil {
		d.catalog = typerules.NewCatalog()
	}
	if d.codecs == nil {
		d.codecs = wire.NewRegistry()
	}
	d.codecs.EnsureDefault(wire.ServiceErrorCodec{})
	return d, nil
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// Codecs returns the registry failures are encoded with.
func (d *Dispatcher) Codecs() *wire.Registry { return d.codecs }

// Catalog returns the catalog results are encoded with.
func (d *Dispatcher) Catalog() *typerules.Catalog { return d.catalog }

// Handle registers h for action, replacing any previous handler.
func (d *Dispatcher) Handle(action string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

// Actions returns the number of registered actions.
func (d *Dispatcher) Actions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch routes a request to its handler and returns the response to send.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	action := req.Action()
	slog.Debug(fmt.Sprintf("%s - %s action=%s", logPrefix, d.name, action))

	d.mu.RLock()
	h, ok := d.handlers[action]
	d.mu.RUnlock()
	if !ok {
		return failure(wire.FailureUnknownAction, fmt.Sprintf("Unknown action: %s", action))
	}

	if resp := d.checkVersion(req.Headers[HeaderVersion]); resp != nil {
		return resp
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	params := req.Params
	if params == nil {
		params = wire.Object{}
	}
	result, err := h(ctx, params)
	if err != nil {
		return &Response{Failure: err}
	}
	switch r := result.(type) {
	case Chain:
		return &Response{Chain: r.Address}
	case *Chain:
		return &Response{Chain: r.Address}
	}
	encoded, err := d.catalog.Encode(result, nil)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s action=%s result not encodable: %v", logPrefix, d.name, action, err))
		return failure(wire.FailureInternal, err.Error())
	}
	return &Response{Value: encoded}
}

func (d *Dispatcher) checkVersion(constraint string) *Response {
	if constraint == "" || d.version == nil {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return failure(wire.FailureInvalidRequest, fmt.Sprintf("Invalid version constraint %q", constraint))
	}
	if !c.Check(d.version) {
		return &Response{Failure: wire.NewServiceError(
			wire.FailureVersionMismatch,
			fmt.Sprintf("Version %s does not satisfy %s", d.version, constraint),
			wire.Object{"version": d.version.String(), "constraint": constraint},
		)}
	}
	return nil
}

func failure(code int, message string) *Response {
	return &Response{Failure: wire.NewServiceError(code, message, nil)}
}

// Arg decodes the parameter name of params into a T. A missing parameter
// yields the zero T. Decode failures are invalid request failures.
func Arg[T any](c *typerules.Catalog, params wire.Object, name string) (T, error) {
	var zero T
	raw, ok := params[name]
	if !ok || raw == nil {
		return zero, nil
	}
	v, err := c.Decode(raw, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, invalidArg(name, err)
	}
	out, ok := v.(T)
	if !ok {
		return zero, invalidArg(name, fmt.Errorf("decoded %T", v))
	}
	return out, nil
}

func invalidArg(name string, err error) error {
	var de *typerules.DecodeError
	debug := wire.Object{"param": name}
	if errors.As(err, &de) {
		debug["path"] = de.Path
	}
	return wire.NewServiceError(wire.FailureInvalidRequest, fmt.Sprintf("Invalid parameter %s: %v", name, err), debug)
}
