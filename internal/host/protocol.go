// Package host serves the bridge control surface to a hosting process over
// newline delimited JSON, on stdio or a websocket.
package host

import (
	"errors"

	"github.com/RobertWHurst/cfxbridge"
)

// Operation names accepted in Request.Op.
const (
	OpOpen                     = "open"
	OpClose                    = "close"
	OpAddPublishChannel        = "addPublishChannel"
	OpAddSubscribeChannel      = "addSubscribeChannel"
	OpPublish                  = "publish"
	OpRegisterListener         = "registerListener"
	OpUnregisterListener       = "unregisterListener"
	OpRegisterConnectionEvents = "registerConnectionEvents"
	OpHandles                  = "handles"
)

// Event names written in Event.Event.
const (
	EventMessage    = "message"
	EventConnection = "connection"
)

// Request is one control call. Fields not used by Op are ignored.
type Request struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	Handle      string `json:"handle,omitempty"`
	BrokerURI   string `json:"brokerUri,omitempty"`
	AMQPTarget  string `json:"amqpTarget,omitempty"`
	SourceQueue string `json:"sourceQueue,omitempty"`
	DataJSON    string `json:"dataJSON,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID      string   `json:"id"`
	OK      bool     `json:"ok"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	Handles []string `json:"handles,omitempty"`
}

// Event carries a callback payload to the client that registered it.
type Event struct {
	Event   string `json:"event"`
	Handle  string `json:"handle"`
	Payload any    `json:"payload"`
}

var errorCodes = []struct {
	err  error
	code string
}{
	{cfxbridge.ErrInvalidRequest, "InvalidRequest"},
	{cfxbridge.ErrDuplicateHandle, "DuplicateHandle"},
	{cfxbridge.ErrUnknownHandle, "UnknownHandle"},
	{cfxbridge.ErrEndpointNotOpen, "EndpointNotOpen"},
	{cfxbridge.ErrChannelValidationFailed, "ChannelValidationFailed"},
	{cfxbridge.ErrDeserializationFailed, "DeserializationFailed"},
	{cfxbridge.ErrHandlerAlreadyRegistered, "HandlerAlreadyRegistered"},
	{cfxbridge.ErrNoHandlerRegistered, "NoHandlerRegistered"},
	{cfxbridge.ErrTransportFailure, "TransportFailure"},
}

// ErrorCode names the bridge error kind of err, or "Internal".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
