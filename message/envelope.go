package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope version stamped on every outbound envelope.
const Version = "2.0"

// Envelope wraps a message with routing and identity metadata.
type Envelope struct {
	MessageName string          `json:"MessageName" msgpack:"MessageName"`
	Version     string          `json:"Version" msgpack:"Version"`
	TimeStamp   time.Time       `json:"TimeStamp" msgpack:"TimeStamp"`
	UniqueID    string          `json:"UniqueID" msgpack:"UniqueID"`
	Source      string          `json:"Source,omitempty" msgpack:"Source,omitempty"`
	Target      string          `json:"Target,omitempty" msgpack:"Target,omitempty"`
	RequestID   string          `json:"RequestID,omitempty" msgpack:"RequestID,omitempty"`
	MessageBody json.RawMessage `json:"MessageBody" msgpack:"MessageBody"`
}

// NewEnvelope wraps msg in a fresh envelope sent from source.
func NewEnvelope(msg *Message, source string) *Envelope {
	return &Envelope{
		MessageName: msg.Name,
		Version:     Version,
		TimeStamp:   time.Now().UTC(),
		UniqueID:    uuid.NewString(),
		Source:      source,
		MessageBody: msg.Raw(),
	}
}

// Message decodes the envelope body.
func (e *Envelope) Message() (*Message, error) {
	if len(e.MessageBody) == 0 {
		return nil, errors.New("envelope has no message body")
	}
	return ParseBytes(e.MessageBody)
}

// ToJSON renders the envelope as JSON text, the form handed to callbacks
// that address endpoints by handle.
func (e *Envelope) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}
