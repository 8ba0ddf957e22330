// Package async defines the outcome type delivered to completion handlers.
package async

import (
	"fmt"
	"reflect"
)

// Void is the payload of a completion that only signals success or failure.
type Void struct{}

// Result is the outcome of an asynchronous call: a value or a failure cause.
type Result[T any] struct {
	Value T
	Err   error
}

// Handler receives the outcome of a call exactly once.
type Handler[T any] func(Result[T])

// Succeeded reports whether the call completed without a failure.
func (r Result[T]) Succeeded() bool { return r.Err == nil }

// Failed reports whether the call completed with a failure.
func (r Result[T]) Failed() bool { return r.Err != nil }

// PayloadType implements Completer.
func (Result[T]) PayloadType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Complete implements Completer. A value that is not a T becomes a failure.
func (Result[T]) Complete(v any, err error) any {
	if err != nil {
		return Result[T]{Err: err}
	}
	if v == nil {
		return Result[T]{}
	}
	if _, void := any((*T)(nil)).(*Void); void {
		return Result[T]{}
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return Result[T]{Err: fmt.Errorf("async:result - cannot complete %T with %T", zero, v)}
	}
	return Result[T]{Value: t}
}

// Completer is implemented by every Result instantiation. It lets code that
// only knows the handler's reflect.Type build the matching outcome.
type Completer interface {
	PayloadType() reflect.Type
	Complete(v any, err error) any
}

var completerType = reflect.TypeOf((*Completer)(nil)).Elem()

// IsHandlerType reports whether t has the completion handler shape
// func(Result[T]) and returns the Result type.
func IsHandlerType(t reflect.Type) (reflect.Type, bool) {
	if t == nil || t.Kind() != reflect.Func {
		return nil, false
	}
	if t.NumIn() != 1 || t.NumOut() != 0 || t.IsVariadic() {
		return nil, false
	}
	in := t.In(0)
	if !in.Implements(completerType) {
		return nil, false
	}
	return in, true
}

// Deliver calls handler (of a type accepted by IsHandlerType) with the outcome
// built from v and err. A nil handler is a no-op; any other value that is not a
// completion handler panics.
func Deliver(handler any, v any, err error) {
	if handler == nil {
		return
	}
	hv := reflect.ValueOf(handler)
	if hv.Kind() == reflect.Func && hv.IsNil() {
		return
	}
	resultType, ok := IsHandlerType(hv.Type())
	if !ok {
		panic(fmt.Sprintf("async:result - %s is not a completion handler", hv.Type()))
	}
	c := reflect.Zero(resultType).Interface().(Completer)
	hv.Call([]reflect.Value{reflect.ValueOf(c.Complete(v, err))})
}
