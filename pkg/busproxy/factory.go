package busproxy

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/morezero/busproxy/pkg/descriptor"
	"github.com/morezero/busproxy/pkg/events"
	"github.com/morezero/busproxy/pkg/typerules"
	"github.com/morezero/busproxy/pkg/wire"
)

const factoryLogPrefix = "busproxy:factory"

// NewFactoryParams holds parameters for NewFactory.
type NewFactoryParams struct {
	Bus Bus
	// Catalog defaults to an empty catalog.
	Catalog *typerules.Catalog
	// Codecs must be the registry the bus decodes failures with. Defaults to a new registry.
	Codecs *wire.Registry
	// Publisher receives proxy closed events. Defaults to a no-op publisher.
	Publisher events.EventPublisher
}

// Factory creates proxies for registered interfaces. Descriptor tables are
// built once per interface at registration and shared by every proxy.
type Factory struct {
	bus       Bus
	catalog   *typerules.Catalog
	codecs    *wire.Registry
	publisher events.EventPublisher

	mu            sync.RWMutex
	registrations map[reflect.Type]*registration
}

type registration struct {
	table     *descriptor.Table
	newClient func(*Proxy) any
}

// NewFactory creates a new Factory.
func NewFactory(params NewFactoryParams) *Factory {
	catalog := params.Catalog
	if catalog == nil {
		catalog = typerules.NewCatalog()
	}
	codecs := params.Codecs
	if codecs == nil {
		codecs = wire.NewRegistry()
	}
	if codecs.EnsureDefault(wire.ServiceErrorCodec{}) {
		slog.Debug(fmt.Sprintf("%s - registered default codec %s", factoryLogPrefix, wire.ServiceErrorCodecName))
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Factory{
		bus:           params.Bus,
		catalog:       catalog,
		codecs:        codecs,
		publisher:     pub,
		registrations: make(map[reflect.Type]*registration),
	}
}

// Catalog returns the type catalog used for encoding and decoding.
func (f *Factory) Catalog() *typerules.Catalog { return f.catalog }

// Codecs returns the codec registry.
func (f *Factory) Codecs() *wire.Registry { return f.codecs }

// Register describes interface T and records newClient as the constructor of
// its client type. T becomes a chainable result type. Registering the same
// interface again is a no-op.
func Register[T any](f *Factory, cfg descriptor.InterfaceConfig, newClient func(*Proxy) T) error {
	t := reflect.TypeOf((*T)(nil)).Elem()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registrations[t]; ok {
		return nil
	}
	table, err := descriptor.Build(t, cfg, chainableWith{catalog: f.catalog, self: t})
	if err != nil {
		return err
	}
	f.catalog.MarkChainable(t)
	f.registrations[t] = &registration{
		table:     table,
		newClient: func(p *Proxy) any { return newClient(p) },
	}
	slog.Debug(fmt.Sprintf("%s - registered %s with %d methods", factoryLogPrefix, table.Interface, len(table.Methods())))
	return nil
}

// New creates a client of interface T bound to address. opts, if not nil,
// become the proxy's default delivery options.
func New[T any](f *Factory, address string, opts *DeliveryOptions) (T, error) {
	var zero T
	v, err := f.newClient(reflect.TypeOf((*T)(nil)).Elem(), address, opts)
	if err != nil {
		return zero, err
	}
	client, ok := v.(T)
	if !ok {
		return zero, &ConfigError{Interface: fmt.Sprint(reflect.TypeOf((*T)(nil)).Elem()), Reason: fmt.Sprintf("client constructor returned %T", v)}
	}
	return client, nil
}

// Table returns the descriptor table of a registered interface type.
func (f *Factory) Table(t reflect.Type) (*descriptor.Table, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.registrations[t]
	if !ok {
		return nil, false
	}
	return reg.table, true
}

// Tables returns the descriptor tables of every registered interface ordered by name.
func (f *Factory) Tables() []*descriptor.Table {
	f.mu.RLock()
	out := make([]*descriptor.Table, 0, len(f.registrations))
	for _, reg := range f.registrations {
		out = append(out, reg.table)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

func (f *Factory) newClient(t reflect.Type, address string, opts *DeliveryOptions) (any, error) {
	f.mu.RLock()
	reg, ok := f.registrations[t]
	f.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Interface: fmt.Sprint(t), Reason: "interface is not registered"}
	}
	if f.bus == nil {
		return nil, &ConfigError{Interface: reg.table.Interface, Reason: "factory has no bus"}
	}
	return reg.newClient(newProxy(f, reg.table, address, opts)), nil
}

// chainableWith treats self as chainable while its own table is being built.
type chainableWith struct {
	catalog *typerules.Catalog
	self    reflect.Type
}

func (c chainableWith) IsChainable(t reflect.Type) bool {
	return t == c.self || c.catalog.IsChainable(t)
}
