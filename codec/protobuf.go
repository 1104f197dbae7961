package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf stores proto messages in wire format. ctor returns an empty
// message to decode into, e.g. func() *pb.Course { return &pb.Course{} }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	if ctor == nil {
		panic("codec: protobuf constructor is nil")
	}
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	if err := proto.Unmarshal(b, m); err != nil {
		return m, fmt.Errorf("codec: protobuf: %w", err)
	}
	return m, nil
}
