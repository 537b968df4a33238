package cfxbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ConnectionState is the lifecycle state of an Endpoint.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateOpen
)

func (s ConnectionState) String() string {
	if s == StateOpen {
		return "Open"
	}
	return "Closed"
}

// Endpoint is one logical connection to the transport, addressed by handle.
// All fields are guarded by mu; registries hand an Endpoint to callers only
// through Registry.Do, which holds mu for the duration of the call.
type Endpoint struct {
	mu      sync.Mutex
	handle  string
	state   ConnectionState
	removed bool
	conn    Conn

	publishChannels   []ChannelAddress
	subscribeChannels []ChannelAddress
	channelKeys       map[string]struct{}

	messageBindings []*binding
	eventBindings   []*binding
}

func newEndpoint(handle string) *Endpoint {
	return &Endpoint{
		handle:      handle,
		channelKeys: make(map[string]struct{}),
	}
}

// Handle returns the endpoint's handle.
func (e *Endpoint) Handle() string {
	return e.handle
}

// State returns the endpoint's recorded lifecycle state.
func (e *Endpoint) State() ConnectionState {
	return e.state
}

// Conn returns the transport connection owned by the endpoint.
func (e *Endpoint) Conn() Conn {
	return e.conn
}

// PublishChannels returns a copy of the committed publish channels.
func (e *Endpoint) PublishChannels() []ChannelAddress {
	return append([]ChannelAddress(nil), e.publishChannels...)
}

// SubscribeChannels returns a copy of the committed subscribe channels.
func (e *Endpoint) SubscribeChannels() []ChannelAddress {
	return append([]ChannelAddress(nil), e.subscribeChannels...)
}

// MessageHandlerCount returns how many message callbacks are bound.
func (e *Endpoint) MessageHandlerCount() int {
	return len(e.messageBindings)
}

// ConnectionEventHandlerCount returns how many connection event callbacks
// are bound.
func (e *Endpoint) ConnectionEventHandlerCount() int {
	return len(e.eventBindings)
}

func (e *Endpoint) isOpen() bool {
	return e.state == StateOpen && e.conn != nil && e.conn.IsOpen()
}

func (e *Endpoint) commitPublishChannel(ctx context.Context, addr ChannelAddress) error {
	key := "pub\x00" + addr.key()
	if _, ok := e.channelKeys[key]; ok {
		return nil
	}
	if err := e.conn.AddPublishChannel(ctx, addr); err != nil {
		return errors.Join(fmt.Errorf("%w: could not add publish channel %s", ErrTransportFailure, addr), err)
	}
	e.channelKeys[key] = struct{}{}
	e.publishChannels = append(e.publishChannels, addr)
	return nil
}

func (e *Endpoint) commitSubscribeChannel(ctx context.Context, addr ChannelAddress) error {
	key := "sub\x00" + addr.key()
	if _, ok := e.channelKeys[key]; ok {
		return nil
	}
	if err := e.conn.AddSubscribeChannel(ctx, addr); err != nil {
		return errors.Join(fmt.Errorf("%w: could not add subscribe channel %s", ErrTransportFailure, addr), err)
	}
	e.channelKeys[key] = struct{}{}
	e.subscribeChannels = append(e.subscribeChannels, addr)
	return nil
}

func (e *Endpoint) bindMessages(callback Callback, form PayloadForm, failures FailurePolicy, exclusive bool) error {
	if exclusive && len(e.messageBindings) > 0 {
		return fmt.Errorf("%w: a message handler is already registered for '%s'", ErrHandlerAlreadyRegistered, e.handle)
	}
	adapter := newHandlerAdapter(callback, failures)
	remove := e.conn.HandleMessages(messageHandlerFor(adapter, form))
	e.messageBindings = append(e.messageBindings, &binding{adapter: adapter, remove: remove})
	return nil
}

func (e *Endpoint) unbindMessages() error {
	if len(e.messageBindings) == 0 {
		return fmt.Errorf("%w: no message handler is registered for '%s'", ErrNoHandlerRegistered, e.handle)
	}
	for _, b := range e.messageBindings {
		b.unbind()
	}
	e.messageBindings = nil
	return nil
}

func (e *Endpoint) bindConnectionEvents(callback Callback, failures FailurePolicy, exclusive bool) error {
	if exclusive && len(e.eventBindings) > 0 {
		return fmt.Errorf("%w: a connection event handler is already registered for '%s'", ErrHandlerAlreadyRegistered, e.handle)
	}
	adapter := newHandlerAdapter(callback, failures)
	remove := e.conn.HandleConnectionEvents(connectionEventHandlerFor(adapter))
	e.eventBindings = append(e.eventBindings, &binding{adapter: adapter, remove: remove})
	return nil
}

// disconnect detaches every binding, message handlers first, and only then
// closes the transport connection so no in-flight event reaches a callback
// whose endpoint is going away.
func (e *Endpoint) disconnect() error {
	for _, b := range e.messageBindings {
		b.unbind()
	}
	e.messageBindings = nil
	for _, b := range e.eventBindings {
		b.unbind()
	}
	e.eventBindings = nil

	var err error
	if e.conn != nil {
		err = e.conn.Close()
	}
	e.state = StateClosed
	e.publishChannels = nil
	e.subscribeChannels = nil
	e.channelKeys = make(map[string]struct{})
	return err
}
