// Package loopback provides an in-process transport for the bridge. A
// Broker routes frames between connections in the same process; it is used
// by tests and by `cfxbridge serve` when no external broker is configured.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/internal/handlers"
	"github.com/RobertWHurst/cfxbridge/message"
)

// ErrUnknownBroker is returned when a channel names a broker host the
// Broker does not serve.
var ErrUnknownBroker = errors.New("unknown broker host")

// ErrBrokerDown is returned when a channel names a host marked down.
var ErrBrokerDown = errors.New("broker host is down")

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection closed")

// frame is what travels through the broker: an envelope encoded by the
// publishing connection's codec.
type frame struct {
	codec  string
	source cfxbridge.ChannelAddress
	body   []byte
}

// Broker routes frames published to (host, address) to every connection
// subscribed to the same pair.
type Broker struct {
	mu          sync.RWMutex
	hosts       map[string]struct{}
	down        map[string]struct{}
	subscribers map[string]map[*Conn]struct{}
	conns       map[*Conn]struct{}
}

// NewBroker creates a broker serving hosts. With no hosts every host is
// served.
func NewBroker(hosts ...string) *Broker {
	b := &Broker{
		down:        make(map[string]struct{}),
		subscribers: make(map[string]map[*Conn]struct{}),
		conns:       make(map[*Conn]struct{}),
	}
	if len(hosts) > 0 {
		b.hosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			b.hosts[h] = struct{}{}
		}
	}
	return b
}

// Down marks host unreachable and raises an Offline event on every
// connection.
func (b *Broker) Down(host string) {
	b.setHost(host, false, cfxbridge.ConnectionOffline)
}

// Up marks host reachable again and raises an Online event on every
// connection.
func (b *Broker) Up(host string) {
	b.setHost(host, true, cfxbridge.ConnectionOnline)
}

func (b *Broker) setHost(host string, up bool, kind cfxbridge.ConnectionEventKind) {
	b.mu.Lock()
	if up {
		delete(b.down, host)
	} else {
		b.down[host] = struct{}{}
	}
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.raiseEvent(cfxbridge.ConnectionEvent{Kind: kind, URI: &url.URL{Scheme: "loopback", Host: host}})
	}
}

func (b *Broker) check(addr cfxbridge.ChannelAddress) error {
	if addr.URI == nil {
		return fmt.Errorf("%w: channel %s has no broker", ErrUnknownBroker, addr)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.hosts != nil {
		if _, ok := b.hosts[addr.URI.Host]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBroker, addr.URI.Host)
		}
	}
	if _, ok := b.down[addr.URI.Host]; ok {
		return fmt.Errorf("%w: %s", ErrBrokerDown, addr.URI.Host)
	}
	return nil
}

func routeKey(addr cfxbridge.ChannelAddress) string {
	return addr.URI.Host + "\x00" + addr.Address
}

func (b *Broker) subscribe(c *Conn, addr cfxbridge.ChannelAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := routeKey(addr)
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[*Conn]struct{})
	}
	b.subscribers[key][c] = struct{}{}
}

func (b *Broker) route(f frame) {
	b.mu.RLock()
	subs := make([]*Conn, 0, len(b.subscribers[routeKey(f.source)]))
	for c := range b.subscribers[routeKey(f.source)] {
		subs = append(subs, c)
	}
	b.mu.RUnlock()

	for _, c := range subs {
		c.receive(f)
	}
}

func (b *Broker) attach(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c] = struct{}{}
}

func (b *Broker) detach(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
	for key, subs := range b.subscribers {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.subscribers, key)
		}
	}
}

// Transport implements cfxbridge.Transport on a Broker.
type Transport struct {
	broker *Broker
	codecs cfxbridge.Codecs
}

var _ cfxbridge.Transport = &Transport{}

// New creates a transport on broker. Inbound frames are decoded with the
// codec named in the frame, looked up in codecs; the codec a connection is
// opened with is always available.
func New(broker *Broker, codecs ...cfxbridge.Codec) *Transport {
	return &Transport{broker: broker, codecs: cfxbridge.NewCodecs(codecs...)}
}

func (t *Transport) Open(ctx context.Context, handle string, codec cfxbridge.Codec) (cfxbridge.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoders := cfxbridge.NewCodecs(codec)
	for name, c := range t.codecs {
		decoders[name] = c
	}
	c := &Conn{
		handle:   handle,
		broker:   t.broker,
		codec:    codec,
		decoders: decoders,
		open:     true,
	}
	t.broker.attach(c)
	return c, nil
}

// Conn is a loopback endpoint connection.
type Conn struct {
	handle   string
	broker   *Broker
	codec    cfxbridge.Codec
	decoders cfxbridge.Codecs

	mu            sync.RWMutex
	open          bool
	publishes     map[string]cfxbridge.ChannelAddress
	msgHandlers   handlers.List[cfxbridge.MessageHandler]
	eventHandlers handlers.List[cfxbridge.ConnectionEventHandler]
}

var _ cfxbridge.Conn = &Conn{}

func (c *Conn) TestPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return c.broker.check(addr)
}

func (c *Conn) AddPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	if err := c.TestPublishChannel(ctx, addr); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishes == nil {
		c.publishes = make(map[string]cfxbridge.ChannelAddress)
	}
	c.publishes[routeKey(addr)] = addr
	return nil
}

func (c *Conn) TestSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return c.broker.check(addr)
}

func (c *Conn) AddSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	if err := c.TestSubscribeChannel(ctx, addr); err != nil {
		return err
	}
	c.broker.subscribe(c, addr)
	return nil
}

func (c *Conn) Publish(ctx context.Context, env *message.Envelope, addr cfxbridge.ChannelAddress) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	if err := c.broker.check(addr); err != nil {
		return err
	}
	body, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.broker.route(frame{codec: c.codec.Name(), source: addr, body: body})
	return nil
}

func (c *Conn) receive(f frame) {
	codec, ok := c.decoders.Lookup(f.codec)
	if !ok {
		c.raiseEvent(cfxbridge.ConnectionEvent{
			Kind:         cfxbridge.ConnectionError,
			URI:          f.source.URI,
			ErrorMessage: fmt.Sprintf("no codec named %q", f.codec),
		})
		return
	}
	var env message.Envelope
	if err := codec.Decode(f.body, &env); err != nil {
		c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionError, URI: f.source.URI, ErrorMessage: err.Error(), Err: err})
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return
	}
	c.msgHandlers.Each(func(h cfxbridge.MessageHandler) {
		h(f.source, &env)
	})
}

func (c *Conn) raiseEvent(event cfxbridge.ConnectionEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.eventHandlers.Each(func(h cfxbridge.ConnectionEventHandler) {
		h(event)
	})
}

func (c *Conn) HandleMessages(handler cfxbridge.MessageHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.msgHandlers.Add(handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.msgHandlers.Remove(id)
	}
}

func (c *Conn) HandleConnectionEvents(handler cfxbridge.ConnectionEventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.eventHandlers.Add(handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.eventHandlers.Remove(id)
	}
}

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()
	c.broker.detach(c)
	return nil
}
