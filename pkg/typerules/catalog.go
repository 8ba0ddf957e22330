// Package typerules converts Go values to and from the structured wire form,
// directed by the declared Go type and a Catalog of capability markers.
package typerules

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/exp/constraints"
)

// enumInfo holds the symbolic names of a registered enumeration.
type enumInfo struct {
	names  map[int64]string
	values map[string]int64
}

// Catalog records which Go types carry which capability: data object,
// enumeration, chainable remote capability or native (known to the bus codec).
// It is safe for concurrent use; registrations normally happen at startup.
type Catalog struct {
	mu             sync.RWMutex
	dataObjects    map[reflect.Type]bool
	chainable      map[reflect.Type]bool
	enums          map[reflect.Type]*enumInfo
	nativePackages []string
	fields         sync.Map // reflect.Type -> []field
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		dataObjects: make(map[reflect.Type]bool),
		chainable:   make(map[reflect.Type]bool),
		enums:       make(map[reflect.Type]*enumInfo),
	}
}

// RegisterEnum registers T as an enumeration with the given symbolic names.
// Values are encoded as their names; names must be unique.
func RegisterEnum[T constraints.Integer](c *Catalog, names map[T]string) error {
	info := &enumInfo{names: make(map[int64]string, len(names)), values: make(map[string]int64, len(names))}
	for v, name := range names {
		if name == "" {
			return fmt.Errorf("typerules:catalog - enum %T has an empty name for %d", v, v)
		}
		if _, dup := info.values[name]; dup {
			return fmt.Errorf("typerules:catalog - enum %T has duplicate name %q", v, name)
		}
		info.names[int64(v)] = name
		info.values[name] = int64(v)
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	c.mu.Lock()
	c.enums[t] = info
	c.mu.Unlock()
	return nil
}

// RegisterDataObject marks T (a struct type) as a data object.
func RegisterDataObject[T any](c *Catalog) {
	c.MarkDataObject(reflect.TypeOf((*T)(nil)).Elem())
}

// MarkDataObject marks t as a data object.
func (c *Catalog) MarkDataObject(t reflect.Type) {
	c.mu.Lock()
	c.dataObjects[t] = true
	c.mu.Unlock()
}

// MarkChainable marks t as a chainable remote capability.
func (c *Catalog) MarkChainable(t reflect.Type) {
	c.mu.Lock()
	c.chainable[t] = true
	c.mu.Unlock()
}

// AddNativePackage declares that types from the package import path prefix are
// understood by the bus codec and pass through unencoded.
func (c *Catalog) AddNativePackage(prefix string) {
	c.mu.Lock()
	c.nativePackages = append(c.nativePackages, prefix)
	c.mu.Unlock()
}

// IsDataObject reports whether t, or the type t points to, is a data object.
func (c *Catalog) IsDataObject(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataObjects[t]
}

// IsChainable reports whether t is a chainable remote capability.
func (c *Catalog) IsChainable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chainable[t]
}

// IsEnum reports whether t is a registered enumeration.
func (c *Catalog) IsEnum(t reflect.Type) bool {
	return c.enum(t) != nil
}

func (c *Catalog) enum(t reflect.Type) *enumInfo {
	if t == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enums[t]
}

func (c *Catalog) isNativePackage(t reflect.Type) bool {
	pkg := t.PkgPath()
	if pkg == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, prefix := range c.nativePackages {
		if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
			return true
		}
	}
	return false
}

// field is one wire-visible struct field.
type field struct {
	name      string
	index     []int
	typ       reflect.Type
	omitEmpty bool
}

// fieldsOf lists the exported fields of struct type t keyed by JSON name.
// Untagged embedded structs are flattened.
func (c *Catalog) fieldsOf(t reflect.Type) []field {
	if cached, ok := c.fields.Load(t); ok {
		return cached.([]field)
	}
	var out []field
	var walk func(t reflect.Type, index []int)
	walk = func(t reflect.Type, index []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			idx := append(append([]int(nil), index...), i)
			if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, idx)
				continue
			}
			if !sf.IsExported() {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			out = append(out, field{
				name:      name,
				index:     idx,
				typ:       sf.Type,
				omitEmpty: strings.Contains(opts, "omitempty"),
			})
		}
	}
	walk(t, nil)
	c.fields.Store(t, out)
	return out
}
