// Package json provides the raw JSON codec for bridge envelopes.
// It uses Go's standard encoding/json package so envelopes stay human
// readable on the broker; the bridge opens every endpoint with it.
package json

import (
	"encoding/json"
)

// Name is the wire name of the codec.
const Name = "raw"

// Encoder implements cfxbridge.Codec using uncompressed JSON.
type Encoder struct{}

// Name returns the codec's wire name.
func (e *Encoder) Name() string {
	return Name
}

// Encode serializes v to JSON bytes.
func (e *Encoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes into v.
func (d *Encoder) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// New creates a new JSON encoder.
func New() *Encoder {
	return &Encoder{}
}
