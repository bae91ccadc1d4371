// Package protocol implements the message frame carried in an h2rpc HTTP/2 body.
//
// HTTP/2 already delimits requests and multiplexes them over streams, so the
// frame no longer needs a sequence number or a message type. What it still
// carries is the serialization format of the payload and an explicit length,
// letting the receiver reject truncated or oversized bodies before decoding.
//
// Frame format:
//
//	0     2   3   4         8
//	┌─────┬───┬───┬─────────┬───────────────┐
//	│magic│ v │ct │ bodyLen │    body ...    │
//	│ h2  │01 │   │ uint32  │ bodyLen bytes  │
//	└─────┴───┴───┴─────────┴───────────────┘
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicByte1 byte = 0x68 // 'h'
	MagicByte2 byte = 0x32 // '2'
	Version    byte = 0x01
	HeaderSize int  = 8 // 2 (magic) + 1 (version) + 1 (codec) + 4 (bodyLen)

	// MaxBodyLen bounds a single payload.
	MaxBodyLen uint32 = 4 << 20
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON  byte = 0
	CodecTypeProto byte = 1
)

// Header is the fixed 8-byte frame header.
type Header struct {
	CodecType byte   // Serialization format: 0=JSON, 1=Proto
	BodyLen   uint32 // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.BodyLen != uint32(len(body)) {
		return fmt.Errorf("body length mismatch: header says %d, body has %d", h.BodyLen, len(body))
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("body too large: %d > %d", h.BodyLen, MaxBodyLen)
	}

	buf := make([]byte, HeaderSize)
	buf[0] = MagicByte1
	buf[1] = MagicByte2
	buf[2] = Version
	buf[3] = h.CodecType
	// Body length: 4 bytes, big-endian (network byte order)
	binary.BigEndian.PutUint32(buf[4:8], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame from r, validating magic, version, codec type
// and length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:2])
	}
	if headerBuf[2] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[2])
	}
	if headerBuf[3] != CodecTypeJSON && headerBuf[3] != CodecTypeProto {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[3])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[4:8])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d > %d", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[3],
		BodyLen:   bodyLen,
	}, body, nil
}

// Frame returns body wrapped in a frame for codecType.
func Frame(codecType byte, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(body))
	err := Encode(&buf, &Header{CodecType: codecType, BodyLen: uint32(len(body))}, body)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unframe decodes a frame held entirely in data. Trailing bytes are an error.
func Unframe(data []byte) (*Header, []byte, error) {
	r := bytes.NewReader(data)
	h, body, err := Decode(r)
	if err != nil {
		return nil, nil, err
	}
	if r.Len() != 0 {
		return nil, nil, fmt.Errorf("trailing data after frame: %d bytes", r.Len())
	}
	return h, body, nil
}
