// Package codec provides pluggable payload serialization for wirerpc.
//
// A Codec turns argument and result values into bytes and back. Codecs are
// selected by name through a Registry so each call can use whatever encoding
// the caller asked for: the envelope layer records the codec name per
// message, nothing on the wire is assumed self-describing.
package codec

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for the two failure directions of a codec.
// Implementations wrap these so callers can test with errors.Is.
var (
	ErrSerialize   = errors.New("codec: serialize failed")
	ErrDeserialize = errors.New("codec: deserialize failed")
	ErrUnknown     = errors.New("codec: unknown codec")
)

// Codec serializes and deserializes payload values.
type Codec interface {
	// Encode serializes v. Returns an error wrapping ErrSerialize if v is
	// not representable in this encoding.
	Encode(v any) ([]byte, error)
	// Decode deserializes data into v. Returns an error wrapping
	// ErrDeserialize on malformed input, never a silently wrong value.
	Decode(data []byte, v any) error
	// Name identifies the codec on the wire (e.g. "json", "gob").
	Name() string
}

// Registry resolves codec names to implementations. It is explicit,
// passed-in configuration: components hold their own Registry instead of
// consulting process globals.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	def    string
}

// NewRegistry creates a registry pre-populated with the built-in codecs
// (json, gob, raw) and "json" as the default.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec), def: NameJSON}
	r.Register(&JSONCodec{})
	r.Register(&GobCodec{})
	r.Register(&RawCodec{})
	return r
}

// Register adds (or replaces) a codec under its own name.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// SetDefault changes which codec Default returns. The codec must already be
// registered.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	r.def = name
	return nil
}

// Get resolves a codec by name.
func (r *Registry) Get(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return c, nil
}

// Default returns the default codec.
func (r *Registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codecs[r.def]
}
