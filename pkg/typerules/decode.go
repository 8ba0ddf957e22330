package typerules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/morezero/busproxy/pkg/wire"
)

// DecodeError reports a wire value whose shape does not match the expected type.
type DecodeError struct {
	Path string
	Want reflect.Type
	Got  string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("typerules: cannot decode %s into %s at %s", e.Got, e.Want, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode converts the wire value w into a value of type t.
//
// A nil wire value decodes to nil and a nil t returns w unchanged, as does a
// w that already is a t. Anything else is converted structurally, mirroring
// the encoding rules: names to enumerations, base64 text to []byte, RFC 3339
// text to time.Time, objects to structs and maps, arrays to slices and sets.
func (c *Catalog) Decode(w any, t reflect.Type) (any, error) {
	if w == nil {
		return nil, nil
	}
	if t == nil {
		return w, nil
	}
	if reflect.TypeOf(w).AssignableTo(t) {
		return w, nil
	}
	rv, err := c.decode(w, t, "$")
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

func (c *Catalog) decode(w any, t reflect.Type, path string) (reflect.Value, error) {
	if w == nil {
		return reflect.Zero(t), nil
	}
	wv := reflect.ValueOf(w)
	if wv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(wv)
		return out, nil
	}
	mismatch := func(err error) (reflect.Value, error) {
		return reflect.Value{}, &DecodeError{Path: path, Want: t, Got: fmt.Sprintf("%T", w), Err: err}
	}

	if info := c.enum(t); info != nil {
		name, ok := w.(string)
		if !ok {
			return mismatch(nil)
		}
		v, ok := info.values[name]
		if !ok {
			return mismatch(fmt.Errorf("unknown name %q", name))
		}
		out := reflect.New(t).Elem()
		if isUnsigned(t.Kind()) {
			out.SetUint(uint64(v))
		} else {
			out.SetInt(v)
		}
		return out, nil
	}
	if t == timeType {
		s, ok := w.(string)
		if !ok {
			return mismatch(nil)
		}
		ts, err := wire.DecodeTime(s)
		if err != nil {
			return mismatch(err)
		}
		return reflect.ValueOf(ts), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := c.decode(w, t.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil

	case reflect.Bool:
		b, ok := w.(bool)
		if !ok {
			return mismatch(nil)
		}
		return reflect.ValueOf(b).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(w)
		if err != nil {
			return mismatch(err)
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return mismatch(fmt.Errorf("%d overflows", n))
		}
		out.SetInt(n)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toUint64(w)
		if err != nil {
			return mismatch(err)
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(n) {
			return mismatch(fmt.Errorf("%d out of range", n))
		}
		out.SetUint(n)
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(w)
		if err != nil {
			return mismatch(err)
		}
		out := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && out.OverflowFloat(f) {
			return mismatch(fmt.Errorf("%g overflows", f))
		}
		out.SetFloat(f)
		return out, nil

	case reflect.String:
		s, ok := w.(string)
		if !ok {
			return mismatch(nil)
		}
		return reflect.ValueOf(s).Convert(t), nil

	case reflect.Slice:
		if isBytes(t) {
			s, ok := w.(string)
			if !ok {
				return mismatch(nil)
			}
			b, err := wire.DecodeBytes(s)
			if err != nil {
				return mismatch(err)
			}
			return reflect.ValueOf(b).Convert(t), nil
		}
		arr, ok := w.(wire.Array)
		if !ok {
			return mismatch(nil)
		}
		out := reflect.MakeSlice(t, len(arr), len(arr))
		for i, e := range arr {
			v, err := c.decode(e, t.Elem(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case reflect.Array:
		arr, ok := w.(wire.Array)
		if !ok || len(arr) != t.Len() {
			return mismatch(nil)
		}
		out := reflect.New(t).Elem()
		for i, e := range arr {
			v, err := c.decode(e, t.Elem(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case reflect.Map:
		return c.decodeMap(w, t, path, mismatch)

	case reflect.Struct:
		obj, ok := w.(wire.Object)
		if !ok {
			return mismatch(nil)
		}
		out := reflect.New(t).Elem()
		for _, f := range c.fieldsOf(t) {
			raw, present := obj[f.name]
			if !present {
				continue
			}
			v, err := c.decode(raw, f.typ, path+"."+f.name)
			if err != nil {
				return reflect.Value{}, err
			}
			out.FieldByIndex(f.index).Set(v)
		}
		return out, nil
	}
	return mismatch(nil)
}

func (c *Catalog) decodeMap(w any, t reflect.Type, path string, mismatch func(error) (reflect.Value, error)) (reflect.Value, error) {
	if isSet(t) {
		arr, ok := w.(wire.Array)
		if !ok {
			return mismatch(nil)
		}
		out := reflect.MakeMapWithSize(t, len(arr))
		member := reflect.New(t.Elem()).Elem()
		if t.Elem().Kind() == reflect.Bool {
			member.SetBool(true)
		}
		for i, e := range arr {
			k, err := c.decode(e, t.Key(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(k, member)
		}
		return out, nil
	}
	obj, ok := w.(wire.Object)
	if !ok || t.Key().Kind() != reflect.String {
		return mismatch(nil)
	}
	out := reflect.MakeMapWithSize(t, len(obj))
	for k, e := range obj {
		v, err := c.decode(e, t.Elem(), path+"."+k)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), v)
	}
	return out, nil
}

func toInt64(w any) (int64, error) {
	switch n := w.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	}
	rv := reflect.ValueOf(w)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("not a number")
}

// toUint64 reads the full unsigned range; float forms are only trusted below 2^53.
func toUint64(w any) (uint64, error) {
	switch n := w.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatToUint64(f)
	case float64:
		return floatToUint64(n)
	case float32:
		return floatToUint64(float64(n))
	}
	rv := reflect.ValueOf(w)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, fmt.Errorf("%d is negative", rv.Int())
		}
		return uint64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	}
	return 0, fmt.Errorf("not a number")
}

func floatToUint64(f float64) (uint64, error) {
	if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
		return 0, fmt.Errorf("%g is not an unsigned integer", f)
	}
	return uint64(f), nil
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%g is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(w any) (float64, error) {
	switch n := w.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	rv := reflect.ValueOf(w)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("not a number")
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}
