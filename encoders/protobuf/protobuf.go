// Package protobuf provides a Protocol Buffers codec for bridge envelopes.
// Values that are not proto messages travel as google.protobuf.Struct.
package protobuf

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/RobertWHurst/cfxbridge"
)

// Name is the wire name of the codec.
const Name = "protobuf"

type Encoder struct{}

var _ cfxbridge.Codec = &Encoder{}

func (e *Encoder) Name() string {
	return Name
}

func (e *Encoder) Encode(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("v must encode to a JSON object: %w", err)
	}
	return proto.Marshal(s)
}

func (e *Encoder) Decode(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}

	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return err
	}
	text, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(text, v)
}

func New() *Encoder {
	return &Encoder{}
}
