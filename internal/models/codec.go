package models

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a record structure to its binary wire form.
func Encode[T any](v T) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// Decode deserializes a record structure from its binary wire form.
func Decode[T any](b []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
