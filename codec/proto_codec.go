package codec

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// ProtoCodec serializes protobuf messages. Arguments and replies must implement
// proto.Message; a service method taking *wrapperspb.StringValue works, a plain
// struct does not.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.Errorf("ProtoCodec: %T does not implement proto.Message", v)
	}
	return proto.Marshal(msg)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return errors.Errorf("ProtoCodec: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, msg)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
