package wire

import (
	"errors"
	"fmt"
	"sync"
)

const registryLogPrefix = "wire:registry"

// ErrCodecRegistered is returned when a codec name is already taken.
var ErrCodecRegistered = errors.New("codec already registered")

// Codec converts a typed value to and from its payload bytes. Codecs are looked
// up by name, which travels with the message.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Registry holds named codecs. A Registry is shared by the parties that must
// agree on names (for example a Factory and the bus it talks through).
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds a codec. Registering a name twice fails with ErrCodecRegistered.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[c.Name()]; ok {
		return fmt.Errorf("%s - %q: %w", registryLogPrefix, c.Name(), ErrCodecRegistered)
	}
	r.codecs[c.Name()] = c
	return nil
}

// EnsureDefault registers c unless a codec with the same name is present and
// reports whether it was added.
func (r *Registry) EnsureDefault(c Codec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[c.Name()]; ok {
		return false
	}
	r.codecs[c.Name()] = c
	return true
}

// Lookup returns the codec registered under name.
func (r *Registry) Lookup(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}
