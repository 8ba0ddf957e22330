package busproxy

import (
	"errors"
	"reflect"
	"testing"

	"github.com/morezero/busproxy/pkg/descriptor"
	"github.com/morezero/busproxy/pkg/wire"
)

const factoryTestPrefix = "busproxy:factory_test"

func TestNewFactory_Defaults(t *testing.T) {
	f := NewFactory(NewFactoryParams{Bus: &fakeBus{}})
	if f.Catalog() == nil {
		t.Fatalf("%s - expected a default catalog", factoryTestPrefix)
	}
	if _, ok := f.Codecs().Lookup(wire.ServiceErrorCodecName); !ok {
		t.Errorf("%s - expected the service error codec to be registered", factoryTestPrefix)
	}
}

func TestNewFactory_SharedCodecRegistry(t *testing.T) {
	codecs := wire.NewRegistry()
	NewFactory(NewFactoryParams{Bus: &fakeBus{}, Codecs: codecs})
	// A second factory on the same registry must not fail on the existing codec.
	NewFactory(NewFactoryParams{Bus: &fakeBus{}, Codecs: codecs})

	err := codecs.Register(wire.ServiceErrorCodec{})
	if !errors.Is(err, wire.ErrCodecRegistered) {
		t.Errorf("%s - expected ErrCodecRegistered, got %v", factoryTestPrefix, err)
	}
}

func TestRegister_MarksChainableAndMemoizes(t *testing.T) {
	f := NewFactory(NewFactoryParams{Bus: &fakeBus{}})
	newCursor := func(p *Proxy) cursorAPI { return &cursorClient{p: p} }
	if err := Register(f, cursorConfig, newCursor); err != nil {
		t.Fatalf("%s - Register failed: %v", factoryTestPrefix, err)
	}
	ct := reflect.TypeOf((*cursorAPI)(nil)).Elem()
	if !f.Catalog().IsChainable(ct) {
		t.Errorf("%s - registered interface should be chainable", factoryTestPrefix)
	}

	first, ok := f.Table(ct)
	if !ok {
		t.Fatalf("%s - expected a table for the cursor", factoryTestPrefix)
	}
	if err := Register(f, cursorConfig, newCursor); err != nil {
		t.Fatalf("%s - second Register failed: %v", factoryTestPrefix, err)
	}
	second, _ := f.Table(ct)
	if first != second {
		t.Errorf("%s - descriptor table should be built once", factoryTestPrefix)
	}

	m, _ := first.Method("Close")
	if !m.Closes {
		t.Errorf("%s - Close on an io.Closer should close", factoryTestPrefix)
	}
}

func TestRegister_InvalidConfig(t *testing.T) {
	f := NewFactory(NewFactoryParams{Bus: &fakeBus{}})
	cfg := descriptor.InterfaceConfig{Methods: map[string]MethodConfig{"Next": {Params: []string{"handler", "extra"}}}}
	err := Register(f, cfg, func(p *Proxy) cursorAPI { return &cursorClient{p: p} })

	var cfgErr *descriptor.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("%s - expected descriptor.ConfigError, got %v", factoryTestPrefix, err)
	}
	if _, ok := f.Table(reflect.TypeOf((*cursorAPI)(nil)).Elem()); ok {
		t.Errorf("%s - failed registration should not be recorded", factoryTestPrefix)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("unregistered interface", func(t *testing.T) {
		f := NewFactory(NewFactoryParams{Bus: &fakeBus{}})
		_, err := New[cursorAPI](f, "cursor", nil)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s - expected ConfigError, got %v", factoryTestPrefix, err)
		}
	})

	t.Run("no bus", func(t *testing.T) {
		f := NewFactory(NewFactoryParams{})
		if err := Register(f, cursorConfig, func(p *Proxy) cursorAPI { return &cursorClient{p: p} }); err != nil {
			t.Fatalf("%s - Register failed: %v", factoryTestPrefix, err)
		}
		_, err := New[cursorAPI](f, "cursor", nil)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s - expected ConfigError, got %v", factoryTestPrefix, err)
		}
	})
}

func TestNew_ProxyAccessors(t *testing.T) {
	g, _ := newTestGreeter(t, &fakeBus{}, nil)
	p := g.(*greeterClient).p
	if p.Address() != "greeter" {
		t.Errorf("%s - Address = %q", factoryTestPrefix, p.Address())
	}
	if p.Interface() != "Greeter" {
		t.Errorf("%s - Interface = %q", factoryTestPrefix, p.Interface())
	}
	if p.Closed() {
		t.Errorf("%s - new proxy should be open", factoryTestPrefix)
	}
}

func TestFactory_Tables(t *testing.T) {
	_, f := newTestGreeter(t, &fakeBus{}, nil)
	tables := f.Tables()
	if len(tables) != 2 {
		t.Fatalf("%s - expected 2 tables, got %d", factoryTestPrefix, len(tables))
	}
	if tables[0].Interface != "Cursor" || tables[1].Interface != "Greeter" {
		t.Errorf("%s - tables out of order: %s, %s", factoryTestPrefix, tables[0].Interface, tables[1].Interface)
	}
}
