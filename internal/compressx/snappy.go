// Package compressx wraps snappy block compression for stored values.
package compressx

import (
	"fmt"

	"github.com/golang/snappy"
)

// Encode compresses src.
func Encode(src []byte) []byte {
	return snappy.Encode(nil, src)
}

// Decode reverses Encode.
func Decode(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// MaybeEncode compresses src when it is at least threshold bytes long and
// compression actually shrinks it. A threshold <= 0 disables compression.
func MaybeEncode(src []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(src) < threshold {
		return src, false
	}
	enc := snappy.Encode(nil, src)
	if len(enc) >= len(src) {
		return src, false
	}
	return enc, true
}
