// Package dispatcher routes incoming bus requests to service handlers by their
// action header.
package dispatcher

import (
	"context"

	"github.com/morezero/busproxy/pkg/wire"
)

// HeaderVersion carries an optional semver constraint the service version must satisfy.
const HeaderVersion = "version"

// HandlerFunc serves one action. params holds the decoded request body keyed
// by parameter name.
type HandlerFunc func(ctx context.Context, params wire.Object) (any, error)

// Chain is returned by a handler whose result is a remote object served at
// Address. The caller receives a proxy bound to that address.
type Chain struct {
	Address string
}

// Request is an incoming request after the transport has been stripped.
type Request struct {
	Headers map[string]string
	Params  wire.Object
}

// Action returns the action header.
func (r *Request) Action() string { return r.Headers["action"] }

// Response is the outcome of dispatching one request. Exactly one of Value,
// Chain or Failure is meaningful.
type Response struct {
	Value   any
	Chain   string
	Failure error
}
