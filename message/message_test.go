package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	msg, err := Parse(`{ "MessageName": "Heartbeat", "HeartbeatFrequency": "00:01:00" }`)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if msg.Name != "Heartbeat" {
		t.Errorf("Expected name 'Heartbeat', got '%s'", msg.Name)
	}

	expected := `{"MessageName":"Heartbeat","HeartbeatFrequency":"00:01:00"}`
	if string(msg.Raw()) != expected {
		t.Errorf("Expected raw '%s', got '%s'", expected, string(msg.Raw()))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "heartbeat"},
		{name: "array", input: `["Heartbeat"]`},
		{name: "missing name", input: `{"Foo":"bar"}`},
		{name: "empty name", input: `{"MessageName":""}`},
		{name: "name not a string", input: `{"MessageName":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseMissingNameIsSentinel(t *testing.T) {
	_, err := Parse(`{}`)
	if !errors.Is(err, ErrMissingName) {
		t.Errorf("Expected ErrMissingName, got %v", err)
	}
}

func TestNewEnvelope(t *testing.T) {
	msg, _ := Parse(`{"MessageName":"Heartbeat"}`)

	env := NewEnvelope(msg, "line1")

	if env.MessageName != "Heartbeat" {
		t.Errorf("Expected message name 'Heartbeat', got '%s'", env.MessageName)
	}
	if env.Source != "line1" {
		t.Errorf("Expected source 'line1', got '%s'", env.Source)
	}
	if env.UniqueID == "" {
		t.Error("Expected unique id to be set")
	}
	if env.TimeStamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if env.Version != Version {
		t.Errorf("Expected version '%s', got '%s'", Version, env.Version)
	}
}

func TestEnvelopeUniqueIDs(t *testing.T) {
	msg, _ := Parse(`{"MessageName":"Heartbeat"}`)

	a := NewEnvelope(msg, "line1")
	b := NewEnvelope(msg, "line1")

	if a.UniqueID == b.UniqueID {
		t.Error("Expected distinct unique ids")
	}
}

func TestEnvelopeToJSON(t *testing.T) {
	msg, _ := Parse(`{"MessageName":"WorkStarted","Lane":1}`)
	env := NewEnvelope(msg, "line1")

	text, err := env.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() failed: %v", err)
	}

	if !strings.Contains(text, `"MessageBody":{"MessageName":"WorkStarted","Lane":1}`) {
		t.Errorf("Expected body embedded verbatim, got %s", text)
	}

	var decoded Envelope
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	body, err := decoded.Message()
	if err != nil {
		t.Fatalf("Message() failed: %v", err)
	}
	if body.Name != "WorkStarted" {
		t.Errorf("Expected body name 'WorkStarted', got '%s'", body.Name)
	}
}

func TestEnvelopeMessageWithoutBody(t *testing.T) {
	env := &Envelope{MessageName: "Heartbeat"}

	if _, err := env.Message(); err == nil {
		t.Error("Expected error for empty body")
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"MessageName":"Heartbeat"}`), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"MessageName":"Heartbeat"}` {
		t.Errorf("Unexpected JSON %s", string(data))
	}
}
