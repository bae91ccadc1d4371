// Package codec serializes RPC arguments and replies into frame payloads.
package codec

import (
	"strings"

	"github.com/pkg/errors"
)

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeProto CodecType = 1
)

// ErrUnknownCodec is returned for a codec type or name with no implementation.
var ErrUnknownCodec = errors.New("codec: unknown codec")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Proto
}

// Get returns the codec for codecType.
func Get(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeProto:
		return &ProtoCodec{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownCodec, "type %d", codecType)
}

// Parse maps a codec name ("json", "proto") to its type.
func Parse(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "json":
		return CodecTypeJSON, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	}
	return 0, errors.Wrapf(ErrUnknownCodec, "name %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeProto:
		return "proto"
	}
	return "unknown"
}
