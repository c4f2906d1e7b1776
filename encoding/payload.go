package encoding

import (
	"fmt"

	"github.com/golang/snappy"
)

// Version payload storage format: a one-byte marker followed by the JSON
// document, snappy block-compressed when the JSON exceeds the threshold.
// Decoding is transparent; callers never see the marker.
const (
	payloadRaw    byte = 0
	payloadSnappy byte = 1
)

// CompressionThreshold is the JSON size above which payloads are stored
// snappy-compressed.
var CompressionThreshold = 512

// EncodePayload serializes a payload document for storage.
func EncodePayload(doc map[string]any) ([]byte, error) {
	ba, err := BlobMarshaler.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return EncodePayloadBytes(ba), nil
}

// EncodePayloadBytes wraps already-serialized JSON for storage.
func EncodePayloadBytes(ba []byte) []byte {
	if len(ba) <= CompressionThreshold {
		out := make([]byte, 0, len(ba)+1)
		out = append(out, payloadRaw)
		return append(out, ba...)
	}
	compressed := snappy.Encode(nil, ba)
	out := make([]byte, 0, len(compressed)+1)
	out = append(out, payloadSnappy)
	return append(out, compressed...)
}

// DecodePayload restores the payload document from its stored form.
func DecodePayload(data []byte) (map[string]any, error) {
	ba, err := DecodePayloadBytes(data)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := BlobMarshaler.Unmarshal(ba, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodePayloadBytes restores the raw JSON bytes from the stored form.
func DecodePayloadBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch data[0] {
	case payloadRaw:
		return data[1:], nil
	case payloadSnappy:
		return snappy.Decode(nil, data[1:])
	default:
		return nil, fmt.Errorf("unknown payload marker %d", data[0])
	}
}

// IsCompressed reports whether the stored payload is snappy-compressed.
func IsCompressed(data []byte) bool {
	return len(data) > 0 && data[0] == payloadSnappy
}
