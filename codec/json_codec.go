package codec

import (
	"encoding/json"
)

// JSONCodec serializes with encoding/json. It is the default: any exported
// struct works and payloads stay readable on the wire.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode leaves v untouched for an empty payload so methods with empty
// arguments can be called without a body.
func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
