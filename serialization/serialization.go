// Package serialization implements Atom's pluggable wire codec
// registry (spec.md §4.7): pure serialize/deserialize function pairs
// keyed by a short tag string that travels alongside the payload in
// the "ser" field, so a reader can pick the right codec without a
// separate negotiation round-trip.
package serialization

import (
	"errors"
	"sync"
)

// None is the identity codec's tag: the payload is already opaque
// bytes and is neither transformed nor interpreted.
const None = "none"

// Msgpack is the tag for the msgpack codec registered by this package.
const Msgpack = "msgpack"

// ErrUnknownTag is returned by Get and Deserialize for an unregistered
// tag.
var ErrUnknownTag = errors.New("serialization: unknown tag")

// Codec serializes and deserializes values for one wire tag.
type Codec interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte) (interface{}, error)
}

// Registry is a tag -> Codec lookup. The zero Registry is unusable;
// use NewRegistry, which pre-registers "none" and "msgpack" the way
// every Atom binding does.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a Registry with the reserved "none" and
// "msgpack" codecs already installed.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec, 4)}
	r.Register(None, noneCodec{})
	r.Register(Msgpack, msgpackCodec{})
	return r
}

// Register installs (or replaces) the codec for tag.
func (r *Registry) Register(tag string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[tag] = c
}

// Get returns the codec registered for tag, or ErrUnknownTag.
func (r *Registry) Get(tag string) (Codec, error) {
	if tag == "" {
		tag = None
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[tag]
	if !ok {
		return nil, ErrUnknownTag
	}
	return c, nil
}

// IsValid reports whether tag (including "") names a registered codec.
func (r *Registry) IsValid(tag string) bool {
	_, err := r.Get(tag)
	return err == nil
}

// Serialize encodes v with the codec registered for tag.
func (r *Registry) Serialize(tag string, v interface{}) ([]byte, error) {
	c, err := r.Get(tag)
	if err != nil {
		return nil, err
	}
	return c.Serialize(v)
}

// Deserialize decodes data with the codec registered for tag.
func (r *Registry) Deserialize(tag string, data []byte) (interface{}, error) {
	c, err := r.Get(tag)
	if err != nil {
		return nil, err
	}
	return c.Deserialize(data)
}

// ResolveLegacyTag maps the legacy boolean serialize/deserialize API
// (spec.md §4.7) onto a tag string. The tag argument wins whenever it
// is non-empty; legacyBool is consulted only when tag is empty and
// legacyBool is non-nil: true maps to "msgpack", false maps to "none".
func ResolveLegacyTag(tag string, legacyBool *bool) string {
	if tag != "" {
		return tag
	}
	if legacyBool != nil {
		if *legacyBool {
			return Msgpack
		}
		return None
	}
	return None
}

type noneCodec struct{}

func (noneCodec) Serialize(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, errors.New("serialization: \"none\" codec requires []byte or string input")
	}
}

func (noneCodec) Deserialize(data []byte) (interface{}, error) {
	return data, nil
}
