// Package encoding provides the serialization used across the module: a
// replaceable JSON Marshaler plus the version payload codec with transparent
// snappy compression.
package encoding

import (
	"encoding/json"
)

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// Global Default marshaller.
var DefaultMarshaler = NewMarshaler()

// Global BlobMarshaler takes care of packing and unpacking to/from blob object
// & byte array. You can replace with your desired Marshaler implementation if
// needed. Defaults to use JSON Marshal.
var BlobMarshaler = DefaultMarshaler

type defaultMarshaler struct{}

// Returns the default marshaller which uses the golang's json package.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

// Encodes any object to a byte array.
func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decodes a byte array back to its Object type.
func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal that can do byte array pass-through.
func Marshal[T any](v T) ([]byte, error) {
	switch any(v).(type) {
	case *[]byte:
		var v2 interface{} = v
		ba := v2.(*[]byte)
		return *ba, nil
	case []byte:
		var intf interface{} = v
		return intf.([]byte), nil
	default:
		return BlobMarshaler.Marshal(v)
	}
}

// Unmarshal that can do byte array pass-through.
func Unmarshal[T any](data []byte, v *T) error {
	switch any(v).(type) {
	case *[]byte:
		var intf interface{} = v
		ba := intf.(*[]byte)
		*ba = data
		return nil
	default:
		return BlobMarshaler.Unmarshal(data, v)
	}
}
