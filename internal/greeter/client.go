package greeter

import (
	"github.com/morezero/busproxy/pkg/async"
	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/descriptor"
)

// GreeterConfig is the registration record of Greeter.
var GreeterConfig = descriptor.InterfaceConfig{
	Name: "Greeter",
	Methods: map[string]descriptor.MethodConfig{
		"Hello":    {Params: []string{"name", "handler"}},
		"Greet":    {Params: []string{"person", "language", "handler"}},
		"GreetAll": {Params: []string{"people", "language", "handler"}},
		"History":  {Params: []string{"pageSize", "handler"}},
		"Fail":     {Params: []string{"code", "message", "debug", "handler"}},
		"Trace":    {Params: []string{"message"}, Ignore: true},
		"Shutdown": {Params: []string{"handler"}, Closes: true},
	},
}

// CursorConfig is the registration record of Cursor.
var CursorConfig = descriptor.InterfaceConfig{
	Name: "Cursor",
	Methods: map[string]descriptor.MethodConfig{
		"Next":  {Params: []string{"handler"}},
		"Close": {},
	},
}

// Register makes Greeter and Cursor clients available from f.
func Register(f *busproxy.Factory) error {
	if err := RegisterTypes(f.Catalog()); err != nil {
		return err
	}
	if err := busproxy.Register(f, CursorConfig, func(p *busproxy.Proxy) Cursor { return &cursorClient{p: p} }); err != nil {
		return err
	}
	return busproxy.Register(f, GreeterConfig, func(p *busproxy.Proxy) Greeter { return &greeterClient{p: p} })
}

// NewClient returns a Greeter bound to address. Register must have been called on f.
func NewClient(f *busproxy.Factory, address string, opts *busproxy.DeliveryOptions) (Greeter, error) {
	return busproxy.New[Greeter](f, address, opts)
}

type greeterClient struct {
	p *busproxy.Proxy
}

func (c *greeterClient) Hello(name string, h async.Handler[string]) Greeter {
	c.p.Invoke("Hello", name, h)
	return c
}

func (c *greeterClient) Greet(person Person, lang Language, h async.Handler[Greeting]) Greeter {
	c.p.Invoke("Greet", person, lang, h)
	return c
}

func (c *greeterClient) GreetAll(people []Person, lang Language, h async.Handler[[]Greeting]) Greeter {
	c.p.Invoke("GreetAll", people, lang, h)
	return c
}

func (c *greeterClient) History(pageSize int, h async.Handler[Cursor]) Greeter {
	c.p.Invoke("History", pageSize, h)
	return c
}

func (c *greeterClient) Fail(code int, message string, debug map[string]any, h async.Handler[async.Void]) Greeter {
	c.p.Invoke("Fail", code, message, debug, h)
	return c
}

func (c *greeterClient) Trace(message string) {
	c.p.Invoke("Trace", message)
}

func (c *greeterClient) Shutdown(h async.Handler[async.Void]) {
	c.p.Invoke("Shutdown", h)
}

type cursorClient struct {
	p *busproxy.Proxy
}

func (c *cursorClient) Next(h async.Handler[[]Greeting]) {
	c.p.Invoke("Next", h)
}

// Close ends the cursor on the service. It does not wait for the reply.
func (c *cursorClient) Close() error {
	_, err := c.p.Invoke("Close")
	return err
}
