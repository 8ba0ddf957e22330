// Package descriptor builds the per-interface table describing how each method
// of a remote interface maps onto bus requests.
package descriptor

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/morezero/busproxy/pkg/async"
)

const logPrefix = "descriptor:build"

// NoCompletion is the CompletionIndex of a method without a completion handler.
const NoCompletion = -1

// Param is one declared method parameter.
type Param struct {
	Name string
	Type reflect.Type
}

// MethodDescriptor is the immutable wire shape of one interface method.
type MethodDescriptor struct {
	// GoName is the Go method name used to invoke the method on a proxy.
	GoName string
	// Action is the wire action name sent in the action header.
	Action string
	// Params lists every parameter in order, the completion handler included.
	Params []Param

	Ignore      bool
	Closes      bool
	ReturnsVoid bool

	CompletionIndex int
	// CompletionType is the func(async.Result[T]) type of the handler.
	CompletionType reflect.Type
	// ResultType is T, or nil when the handler carries no payload type.
	ResultType        reflect.Type
	ResultIsChainable bool

	info string
}

// HasCompletion reports whether the method declares a completion handler.
func (m *MethodDescriptor) HasCompletion() bool {
	return m.CompletionIndex != NoCompletion
}

func (m *MethodDescriptor) String() string { return m.info }

// MethodConfig carries what the method signature cannot: parameter names and
// capability markers.
type MethodConfig struct {
	// Action overrides the wire action name. Defaults to the Go method name
	// with a lower-case first letter.
	Action string
	// Params names every parameter in declaration order.
	Params []string
	Ignore bool
	Closes bool
}

// InterfaceConfig is the explicit registration record for one interface.
type InterfaceConfig struct {
	// Name is used in logs and errors. Defaults to the Go type name.
	Name string
	// Closeable makes a zero-argument Close method end the proxy's lifetime.
	// Interfaces embedding io.Closer are closeable without setting it.
	Closeable bool
	Methods   map[string]MethodConfig
}

// Markers answers capability questions about result types.
type Markers interface {
	IsChainable(t reflect.Type) bool
}

// ConfigError reports an interface that cannot be described.
type ConfigError struct {
	Interface string
	Method    string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s - interface %s: %s", logPrefix, e.Interface, e.Reason)
	}
	return fmt.Sprintf("%s - %s.%s: %s", logPrefix, e.Interface, e.Method, e.Reason)
}

// Table maps Go method names of one interface to their descriptors. A Table is
// never modified after Build returns and may be shared freely.
type Table struct {
	Interface string
	Type      reflect.Type
	methods   map[string]*MethodDescriptor
}

// Method returns the descriptor for the Go method name.
func (t *Table) Method(name string) (*MethodDescriptor, bool) {
	m, ok := t.methods[name]
	return m, ok
}

// Methods returns all descriptors ordered by Go method name.
func (t *Table) Methods() []*MethodDescriptor {
	out := make([]*MethodDescriptor, 0, len(t.methods))
	for _, m := range t.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GoName < out[j].GoName })
	return out
}

var closerType = reflect.TypeOf((*io.Closer)(nil)).Elem()

// Build describes every method of the interface type iface, including those of
// embedded interfaces. Identity methods (String, GoString, Equal, Hash) are
// skipped.
func Build(iface reflect.Type, cfg InterfaceConfig, markers Markers) (*Table, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, &ConfigError{Interface: fmt.Sprint(iface), Reason: "not an interface type"}
	}
	name := cfg.Name
	if name == "" {
		name = iface.Name()
	}
	closeable := cfg.Closeable || iface.Implements(closerType)

	table := &Table{Interface: name, Type: iface, methods: make(map[string]*MethodDescriptor, iface.NumMethod())}
	for i := 0; i < iface.NumMethod(); i++ {
		method := iface.Method(i)
		if isIdentity(method) {
			continue
		}
		m, err := buildMethod(name, method, cfg.Methods[method.Name], closeable, markers)
		if err != nil {
			return nil, err
		}
		table.methods[method.Name] = m
	}
	for configured := range cfg.Methods {
		if _, ok := table.methods[configured]; !ok {
			return nil, &ConfigError{Interface: name, Method: configured, Reason: "configured method is not part of the interface"}
		}
	}
	return table, nil
}

func buildMethod(iface string, method reflect.Method, mc MethodConfig, closeable bool, markers Markers) (*MethodDescriptor, error) {
	ft := method.Type
	if ft.IsVariadic() {
		return nil, &ConfigError{Interface: iface, Method: method.Name, Reason: "variadic methods are not supported"}
	}
	if len(mc.Params) != ft.NumIn() {
		return nil, &ConfigError{
			Interface: iface,
			Method:    method.Name,
			Reason:    fmt.Sprintf("%d parameter names configured, signature has %d", len(mc.Params), ft.NumIn()),
		}
	}

	m := &MethodDescriptor{
		GoName:          method.Name,
		Action:          mc.Action,
		Params:          make([]Param, ft.NumIn()),
		Ignore:          mc.Ignore,
		Closes:          mc.Closes || (closeable && method.Name == "Close" && ft.NumIn() == 0),
		ReturnsVoid:     ft.NumOut() == 0,
		CompletionIndex: NoCompletion,
	}
	if m.Action == "" {
		m.Action = lowerFirst(method.Name)
	}

	seen := make(map[string]bool, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		pname := mc.Params[i]
		if pname == "" || seen[pname] {
			return nil, &ConfigError{Interface: iface, Method: method.Name, Reason: fmt.Sprintf("parameter %d needs a unique non-empty name", i)}
		}
		seen[pname] = true
		pt := ft.In(i)
		m.Params[i] = Param{Name: pname, Type: pt}

		resultType, ok := async.IsHandlerType(pt)
		if !ok {
			continue
		}
		if m.CompletionIndex != NoCompletion {
			return nil, &ConfigError{Interface: iface, Method: method.Name, Reason: "more than one completion handler parameter"}
		}
		m.CompletionIndex = i
		m.CompletionType = pt
		m.ResultType = payloadType(resultType)
	}
	if markers != nil && m.ResultType != nil {
		m.ResultIsChainable = markers.IsChainable(m.ResultType)
	}

	var b strings.Builder
	if m.ResultIsChainable {
		b.WriteString("chainable ")
	}
	b.WriteString(iface + "." + m.Action)
	if m.Ignore {
		b.WriteString(" ignore")
	}
	if m.Closes {
		b.WriteString(" closes")
	}
	m.info = b.String()
	return m, nil
}

var (
	anyType  = reflect.TypeOf((*any)(nil)).Elem()
	voidType = reflect.TypeOf(async.Void{})
)

// payloadType peels handler-of-result-of-T down to T. Raw (any) and pure
// signal (async.Void) completions have no payload type.
func payloadType(resultType reflect.Type) reflect.Type {
	c, ok := reflect.Zero(resultType).Interface().(async.Completer)
	if !ok {
		return nil
	}
	t := c.PayloadType()
	if t == anyType || t == voidType {
		return nil
	}
	return t
}

func isIdentity(m reflect.Method) bool {
	ft := m.Type
	switch m.Name {
	case "String", "GoString":
		return ft.NumIn() == 0 && ft.NumOut() == 1 && ft.Out(0).Kind() == reflect.String
	case "Equal":
		return ft.NumIn() == 1 && ft.NumOut() == 1 && ft.Out(0).Kind() == reflect.Bool
	case "Hash":
		return ft.NumIn() == 0
	}
	return false
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
