// Package msgpack provides a MessagePack codec for bridge envelopes.
// MessagePack is a binary format that is faster and more compact than JSON;
// the bridge decodes it on inbound frames from peers that publish with it.
package msgpack

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertWHurst/cfxbridge"
)

// Name is the wire name of the codec.
const Name = "msgpack"

// Encoder implements cfxbridge.Codec using MessagePack binary serialization.
type Encoder struct{}

var _ cfxbridge.Codec = &Encoder{}

func (e *Encoder) Name() string {
	return Name
}

// Encode serializes v to MessagePack bytes.
func (e *Encoder) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes MessagePack bytes into v.
func (d *Encoder) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// New creates a new MessagePack encoder.
func New() *Encoder {
	return &Encoder{}
}
