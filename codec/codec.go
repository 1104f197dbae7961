// Package codec serializes cached values at the store boundary.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Kind names a codec in configuration.
type Kind string

const (
	KindJSON    Kind = "json"
	KindMsgpack Kind = "msgpack"
	KindCBOR    Kind = "cbor"
)

// New returns the codec named by kind. An empty kind selects JSON, the
// format the rest of the stack (and non-Go readers of the same store) expect.
// Protobuf is not selectable by name: it needs a message constructor.
func New[V any](kind Kind) (Codec[V], error) {
	switch kind {
	case "", KindJSON:
		return JSON[V]{}, nil
	case KindMsgpack:
		return Msgpack[V]{}, nil
	case KindCBOR:
		return NewCBOR[V](false)
	default:
		return nil, fmt.Errorf("codec: unknown kind %q", kind)
	}
}
