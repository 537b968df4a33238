package cfxbridge

import (
	"context"
	"net/url"

	"github.com/RobertWHurst/cfxbridge/message"
)

// Transport opens endpoint connections against a message broker.
// Implementations live under transports/.
type Transport interface {
	// Open establishes a connection for the endpoint identified by handle.
	// Outbound envelopes on the returned Conn are encoded with codec.
	Open(ctx context.Context, handle string, codec Codec) (Conn, error)
}

// Conn is a single endpoint's connection to the broker. A Conn is owned by
// exactly one Endpoint record and is never shared between endpoints.
type Conn interface {
	// TestPublishChannel checks that addr can be published to without
	// adding it to the connection.
	TestPublishChannel(ctx context.Context, addr ChannelAddress) error

	// AddPublishChannel attaches a publish channel to the connection.
	AddPublishChannel(ctx context.Context, addr ChannelAddress) error

	// TestSubscribeChannel checks that addr can be consumed from without
	// adding it to the connection.
	TestSubscribeChannel(ctx context.Context, addr ChannelAddress) error

	// AddSubscribeChannel starts consuming from addr. Received envelopes are
	// raised to every handler registered with HandleMessages.
	AddSubscribeChannel(ctx context.Context, addr ChannelAddress) error

	// Publish sends env to addr.
	Publish(ctx context.Context, env *message.Envelope, addr ChannelAddress) error

	// HandleMessages registers a handler for inbound envelopes. The returned
	// function removes it; once it returns the handler is not called again.
	HandleMessages(handler MessageHandler) (remove func())

	// HandleConnectionEvents registers a handler for connection state
	// changes. The returned function removes it.
	HandleConnectionEvents(handler ConnectionEventHandler) (remove func())

	// IsOpen reports whether the connection is usable.
	IsOpen() bool

	// Close disconnects from the broker.
	Close() error
}

// MessageHandler receives envelopes raised by a Conn.
type MessageHandler func(source ChannelAddress, env *message.Envelope)

// ConnectionEventHandler receives connection state changes raised by a Conn.
type ConnectionEventHandler func(event ConnectionEvent)

// ChannelAddress names a broker and a routing key on it: a publish target
// or a subscribe source queue.
type ChannelAddress struct {
	URI     *url.URL
	Address string
}

func (a ChannelAddress) String() string {
	if a.URI == nil {
		return a.Address
	}
	return a.URI.String() + "/" + a.Address
}

func (a ChannelAddress) key() string {
	if a.URI == nil {
		return "\x00" + a.Address
	}
	return a.URI.String() + "\x00" + a.Address
}

// ConnectionEventKind is the symbolic name of a connection state change.
type ConnectionEventKind int

const (
	// ConnectionOnline is raised when a broker link becomes usable.
	ConnectionOnline ConnectionEventKind = iota
	// ConnectionOffline is raised when a broker link is lost.
	ConnectionOffline
	// ConnectionReconnecting is raised while the transport retries a link.
	ConnectionReconnecting
	// ConnectionError is raised for asynchronous transport errors.
	ConnectionError
)

func (k ConnectionEventKind) String() string {
	switch k {
	case ConnectionOnline:
		return "Online"
	case ConnectionOffline:
		return "Offline"
	case ConnectionReconnecting:
		return "Reconnecting"
	case ConnectionError:
		return "Error"
	}
	return "Unknown"
}

// ConnectionEvent describes a connection state change. Only Kind reaches
// bridge callbacks; the other fields are for transports and logs.
type ConnectionEvent struct {
	Kind         ConnectionEventKind
	URI          *url.URL
	SpoolSize    int
	ErrorMessage string
	Err          error
}
