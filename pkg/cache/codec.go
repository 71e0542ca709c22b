package cache

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Codec serializes values for out-of-process tiers. Each tier holds its own
// codec so compression can be enabled per tier.
type Codec struct {
	// Compress enables s2 compression of the serialized payload.
	Compress bool

	// CompressThreshold is the minimum serialized size in bytes before
	// compression is attempted. Small payloads are stored as-is.
	CompressThreshold int
}

// s2Magic prefixes compressed payloads so Decode can distinguish them from
// plain JSON (which never starts with 0xff).
var s2Magic = []byte{0xff, 0x06, 0x00}

// Encode serializes a value, optionally compressing it.
// The returned flag reports whether the payload was compressed.
func (c *Codec) Encode(value interface{}) ([]byte, bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	if !c.Compress || len(data) < c.threshold() {
		return data, false, nil
	}

	compressed := s2.Encode(nil, data)
	if len(compressed) >= len(data) {
		return data, false, nil
	}
	return append(append([]byte{}, s2Magic...), compressed...), true, nil
}

// Decode deserializes a payload produced by Encode.
func (c *Codec) Decode(data []byte, out interface{}) error {
	if len(data) > len(s2Magic) && data[0] == s2Magic[0] && data[1] == s2Magic[1] && data[2] == s2Magic[2] {
		plain, err := s2.Decode(nil, data[len(s2Magic):])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		data = plain
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

func (c *Codec) threshold() int {
	if c.CompressThreshold <= 0 {
		return 1024
	}
	return c.CompressThreshold
}
