package greeter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/dispatcher"
	"github.com/morezero/busproxy/pkg/typerules"
	"github.com/morezero/busproxy/pkg/wire"
)

const logPrefix = "greeter:service"

// DefaultPageSize is used by History when the caller asks for no page size.
const DefaultPageSize = 10

// NewServiceParams holds parameters for NewService.
type NewServiceParams struct {
	Conn    *comms.Conn
	Address string
	// Version is the service version checked against request constraints.
	Version string
	// Codecs encodes failures. Share it with the clients' bus when in-process.
	Codecs         *wire.Registry
	RequestTimeout time.Duration
	// MaxHistory bounds the greetings kept for history cursors. Defaults to DefaultMaxHistory.
	MaxHistory int
}

// DefaultMaxHistory is the number of greetings a Service remembers.
const DefaultMaxHistory = 1000

// Service serves Greeter at an address and a Cursor per opened history.
type Service struct {
	nc      *comms.Conn
	address string
	catalog *typerules.Catalog
	codecs  *wire.Registry
	disp    *dispatcher.Dispatcher
	now     func() time.Time

	mu         sync.Mutex
	seq        int64
	history    []Greeting
	maxHistory int
	sub        *comms.Subscription
	cursors    map[string]*comms.Subscription
}

// NewService creates a Service. Call Start to begin serving.
func NewService(params NewServiceParams) (*Service, error) {
	catalog := typerules.NewCatalog()
	if err := RegisterTypes(catalog); err != nil {
		return nil, fmt.Errorf("%s - failed to register types: %w", logPrefix, err)
	}
	disp, err := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Name:           "greeter",
		Version:        params.Version,
		Catalog:        catalog,
		Codecs:         params.Codecs,
		RequestTimeout: params.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	s := &Service{
		nc:      params.Conn,
		address: params.Address,
		catalog: catalog,
		codecs:  disp.Codecs(),
		disp:    disp,
		now:     func() time.Time { return time.Now().UTC() },
		cursors: make(map[string]*comms.Subscription),
	}
	s.maxHistory = params.MaxHistory
	if s.maxHistory <= 0 {
		s.maxHistory = DefaultMaxHistory
	}
	disp.Handle("hello", s.handleHello)
	disp.Handle("greet", s.handleGreet)
	disp.Handle("greetAll", s.handleGreetAll)
	disp.Handle("history", s.handleHistory)
	disp.Handle("fail", s.handleFail)
	disp.Handle("shutdown", s.handleShutdown)
	return s, nil
}

// Address returns the address the service is served at.
func (s *Service) Address() string { return s.address }

// Dispatcher returns the dispatcher serving Greeter actions.
func (s *Service) Dispatcher() *dispatcher.Dispatcher { return s.disp }

// Start subscribes the service at its address.
func (s *Service) Start() error {
	sub, err := dispatcher.Bind(s.nc, s.address, s.disp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop unsubscribes the service and every open cursor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to unsubscribe %s: %v", logPrefix, s.address, err))
		}
		s.sub = nil
	}
	for addr, sub := range s.cursors {
		sub.Unsubscribe()
		delete(s.cursors, addr)
	}
}

// OpenCursors returns the number of cursors not yet closed.
func (s *Service) OpenCursors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

func (s *Service) record(message string, lang Language) Greeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g := Greeting{Seq: s.seq, Message: message, Language: lang, At: s.now()}
	s.history = append(s.history, g)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = s.history[over:]
	}
	return g
}

func (s *Service) handleHello(_ context.Context, params wire.Object) (any, error) {
	name, err := dispatcher.Arg[string](s.catalog, params, "name")
	if err != nil {
		return nil, err
	}
	g := s.record(phrases[English]+" "+name, English)
	return g.Message, nil
}

func (s *Service) handleGreet(_ context.Context, params wire.Object) (any, error) {
	person, err := dispatcher.Arg[Person](s.catalog, params, "person")
	if err != nil {
		return nil, err
	}
	lang, err := dispatcher.Arg[Language](s.catalog, params, "language")
	if err != nil {
		return nil, err
	}
	return s.greet(person, lang)
}

func (s *Service) handleGreetAll(_ context.Context, params wire.Object) (any, error) {
	people, err := dispatcher.Arg[[]Person](s.catalog, params, "people")
	if err != nil {
		return nil, err
	}
	lang, err := dispatcher.Arg[Language](s.catalog, params, "language")
	if err != nil {
		return nil, err
	}
	out := make([]Greeting, 0, len(people))
	for _, p := range people {
		g, err := s.greet(p, lang)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Service) greet(p Person, lang Language) (Greeting, error) {
	phrase, ok := phrases[lang]
	if !ok {
		return Greeting{}, wire.NewServiceError(wire.FailureInvalidRequest, fmt.Sprintf("unsupported language %d", lang), nil)
	}
	msg := phrase + " " + p.Name
	if _, vip := p.Tags["vip"]; vip {
		msg += "!"
	}
	return s.record(msg, lang), nil
}

func (s *Service) handleHistory(_ context.Context, params wire.Object) (any, error) {
	pageSize, err := dispatcher.Arg[int](s.catalog, params, "pageSize")
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s.mu.Lock()
	snapshot := append([]Greeting(nil), s.history...)
	s.mu.Unlock()

	addr := dispatcher.NewAddress(s.address + ".cursor")
	cur, err := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Name:    "greeter.cursor",
		Catalog: s.catalog,
		Codecs:  s.codecs,
	})
	if err != nil {
		return nil, err
	}

	var pos int
	var posMu sync.Mutex
	cur.Handle("next", func(context.Context, wire.Object) (any, error) {
		posMu.Lock()
		defer posMu.Unlock()
		end := min(pos+pageSize, len(snapshot))
		page := snapshot[pos:end]
		pos = end
		return page, nil
	})
	cur.Handle("close", func(context.Context, wire.Object) (any, error) {
		s.closeCursor(addr)
		return nil, nil
	})

	sub, err := dispatcher.Bind(s.nc, addr, cur)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cursors[addr] = sub
	s.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - opened cursor %s over %d greetings", logPrefix, addr, len(snapshot)))
	return dispatcher.Chain{Address: addr}, nil
}

func (s *Service) closeCursor(addr string) {
	s.mu.Lock()
	sub, ok := s.cursors[addr]
	delete(s.cursors, addr)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to unsubscribe cursor %s: %v", logPrefix, addr, err))
	}
	slog.Debug(fmt.Sprintf("%s - closed cursor %s", logPrefix, addr))
}

func (s *Service) handleFail(_ context.Context, params wire.Object) (any, error) {
	code, err := dispatcher.Arg[int](s.catalog, params, "code")
	if err != nil {
		return nil, err
	}
	message, err := dispatcher.Arg[string](s.catalog, params, "message")
	if err != nil {
		return nil, err
	}
	debug, err := dispatcher.Arg[map[string]any](s.catalog, params, "debug")
	if err != nil {
		return nil, err
	}
	return nil, wire.NewServiceError(code, message, debug)
}

func (s *Service) handleShutdown(context.Context, wire.Object) (any, error) {
	slog.Debug(fmt.Sprintf("%s - client session ended", logPrefix))
	return nil, nil
}
