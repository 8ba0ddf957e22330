package typerules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/morezero/busproxy/pkg/wire"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
	objectType        = reflect.TypeOf(wire.Object(nil))
	arrayType         = reflect.TypeOf(wire.Array(nil))
)

// EncodeError reports a value the encoding rules cannot represent on the wire.
type EncodeError struct {
	Path   string
	Type   reflect.Type
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("typerules: cannot encode %s at %s: %s", e.Type, e.Path, e.Reason)
}

// Encode converts v, declared as type declared, to its wire value. The rules
// are applied in order and the first match wins:
//
//  1. nil becomes nil
//  2. bus-native values (json.Marshaler, wire.Object, wire.Array) pass through
//  3. registered enumerations become their symbolic name
//  4. booleans and numbers (runes included) pass through
//  5. []byte becomes base64 text, time.Time becomes RFC 3339 text
//  6. collections: data object elements become structured objects, sets become
//     arrays in map iteration order, natively encodable elements pass through;
//     elements of interface type are encoded one by one by their dynamic type
//  7. strings and types from native packages pass through
//  8. anything else is converted field by field into a wire.Object
//
// Set iteration order is not reproducible across calls.
func (c *Catalog) Encode(v any, declared reflect.Type) (any, error) {
	return c.encode(reflect.ValueOf(v), declared, "$")
}

func (c *Catalog) encode(rv reflect.Value, declared reflect.Type, path string) (any, error) {
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() || isNil(rv) {
		return nil, nil
	}
	if declared == nil || declared.Kind() == reflect.Interface || !rv.Type().AssignableTo(declared) {
		declared = rv.Type()
	}
	if c.isBusNative(rv.Type()) {
		return rv.Interface(), nil
	}
	if info := c.enum(declared); info != nil {
		name, ok := info.names[enumValue(rv)]
		if !ok {
			return nil, &EncodeError{Path: path, Type: declared, Reason: fmt.Sprintf("no symbolic name for %v", rv.Interface())}
		}
		return name, nil
	}

	switch declared.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.Interface(), nil
	}

	if declared == timeType {
		return wire.EncodeTime(rv.Interface().(time.Time)), nil
	}
	if isBytes(declared) {
		return wire.EncodeBytes(rv.Bytes()), nil
	}

	switch declared.Kind() {
	case reflect.Slice, reflect.Array:
		return c.encodeCollection(rv, declared, path)
	case reflect.Map:
		if isSet(declared) {
			return c.encodeSet(rv, declared, path)
		}
	}

	if declared.Kind() == reflect.String || c.isNativePackage(declared) {
		return rv.Interface(), nil
	}
	if declared.Kind() == reflect.Map && declared.Key().Kind() == reflect.String && c.isNativeElem(declared.Elem()) {
		return rv.Interface(), nil
	}
	return c.encodeStructured(rv, declared, path)
}

func (c *Catalog) encodeCollection(rv reflect.Value, declared reflect.Type, path string) (any, error) {
	elem := declared.Elem()
	if !c.IsDataObject(elem) && c.isNativeElem(elem) {
		return rv.Interface(), nil
	}
	out := make(wire.Array, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		var (
			v   any
			err error
		)
		if c.IsDataObject(elem) {
			v, err = c.encodeStructured(rv.Index(i), elem, fmt.Sprintf("%s[%d]", path, i))
		} else {
			v, err = c.encode(rv.Index(i), elem, fmt.Sprintf("%s[%d]", path, i))
		}
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Catalog) encodeSet(rv reflect.Value, declared reflect.Type, path string) (any, error) {
	out := make(wire.Array, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		if declared.Elem().Kind() == reflect.Bool && !iter.Value().Bool() {
			continue
		}
		k, err := c.encode(iter.Key(), declared.Key(), fmt.Sprintf("%s[%v]", path, iter.Key().Interface()))
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// encodeStructured is the generic structured-object conversion.
func (c *Catalog) encodeStructured(rv reflect.Value, declared reflect.Type, path string) (any, error) {
	derefed := false
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
		derefed = true
	}
	if declared.Kind() == reflect.Pointer || declared.Kind() == reflect.Interface {
		declared = rv.Type()
	}

	switch rv.Kind() {
	case reflect.Struct:
		obj := make(wire.Object)
		for _, f := range c.fieldsOf(rv.Type()) {
			fv := rv.FieldByIndex(f.index)
			if f.omitEmpty && fv.IsZero() {
				continue
			}
			v, err := c.encode(fv, f.typ, path+"."+f.name)
			if err != nil {
				return nil, err
			}
			obj[f.name] = v
		}
		return obj, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &EncodeError{Path: path, Type: declared, Reason: "map keys must be strings"}
		}
		obj := make(wire.Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			v, err := c.encode(iter.Value(), rv.Type().Elem(), path+"."+key)
			if err != nil {
				return nil, err
			}
			obj[key] = v
		}
		return obj, nil
	default:
		if derefed {
			return c.encode(rv, rv.Type(), path)
		}
		return nil, &EncodeError{Path: path, Type: declared, Reason: "unsupported kind " + rv.Kind().String()}
	}
}

func (c *Catalog) isBusNative(t reflect.Type) bool {
	if t == objectType || t == arrayType {
		return true
	}
	return t != timeType && t.Implements(jsonMarshalerType)
}

// isNativeElem reports whether values of t marshal to JSON exactly as the
// encoding rules would produce them.
func (c *Catalog) isNativeElem(t reflect.Type) bool {
	if c.IsEnum(t) || t == timeType {
		return false
	}
	if c.isBusNative(t) || c.isNativePackage(t) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	case reflect.Slice, reflect.Array:
		return isBytes(t) || c.isNativeElem(t.Elem())
	case reflect.Map:
		return !isSet(t) && t.Key().Kind() == reflect.String && c.isNativeElem(t.Elem())
	case reflect.Pointer:
		return c.isNativeElem(t.Elem())
	}
	return false
}

func isNil(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// isSet reports whether t is a set-shaped map: map[K]struct{} or map[K]bool.
func isSet(t reflect.Type) bool {
	if t.Kind() != reflect.Map {
		return false
	}
	e := t.Elem()
	return e.Kind() == reflect.Bool || (e.Kind() == reflect.Struct && e.NumField() == 0)
}

func enumValue(rv reflect.Value) int64 {
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint())
	}
	return rv.Int()
}
