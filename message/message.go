// Package message holds the message schema the bridge moves between its
// callers and the transport: a named message body wrapped in an envelope.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingName is returned when a message body has no MessageName.
var ErrMissingName = errors.New("message has no MessageName")

// Message is a single CFX message body. The body is kept as the JSON object
// the caller supplied so fields the bridge does not know survive publishing.
type Message struct {
	Name string
	raw  json.RawMessage
}

// Parse decodes the textual form of a message. The text must be a JSON
// object carrying a non-empty string MessageName.
func Parse(data string) (*Message, error) {
	return ParseBytes([]byte(data))
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(data []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	nameField, ok := fields["MessageName"]
	if !ok {
		return nil, ErrMissingName
	}
	var name string
	if err := json.Unmarshal(nameField, &name); err != nil {
		return nil, fmt.Errorf("decode MessageName: %w", err)
	}
	if name == "" {
		return nil, ErrMissingName
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &Message{Name: name, raw: compact.Bytes()}, nil
}

// Raw returns the compact JSON form of the message.
func (m *Message) Raw() json.RawMessage {
	return m.raw
}

func (m *Message) MarshalJSON() ([]byte, error) {
	if m.raw == nil {
		return json.Marshal(map[string]string{"MessageName": m.Name})
	}
	return m.raw, nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	parsed, err := ParseBytes(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
