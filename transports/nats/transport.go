// Package nats provides a NATS transport for the bridge. Publish targets
// and subscribe source queues map to subjects under the cfx namespace;
// subscriptions are queue subscriptions so a source queue is shared between
// consumers. Each frame carries the name of the codec its envelope was
// encoded with so peers using other codecs can be decoded.
package nats

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/internal/handlers"
	"github.com/RobertWHurst/cfxbridge/message"
)

// DialTimeout is the default time allowed to reach a broker.
const DialTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("nats connection closed")

// Frame is the wire form of a published envelope.
type Frame struct {
	Codec  string `msgpack:"codec"`
	Source string `msgpack:"source"`
	Body   []byte `msgpack:"body"`
}

// NatsTransport implements cfxbridge.Transport using NATS as the broker.
type NatsTransport struct {
	DialTimeout time.Duration
	Options     []nats.Option
	Codecs      cfxbridge.Codecs
}

var _ cfxbridge.Transport = &NatsTransport{}

// NewNatsTransport creates a NATS transport. Inbound frames may use any of
// codecs in addition to the codec each endpoint is opened with.
func NewNatsTransport(codecs ...cfxbridge.Codec) *NatsTransport {
	return &NatsTransport{
		DialTimeout: DialTimeout,
		Codecs:      cfxbridge.NewCodecs(codecs...),
	}
}

func (t *NatsTransport) Open(ctx context.Context, handle string, codec cfxbridge.Codec) (cfxbridge.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoders := cfxbridge.NewCodecs(codec)
	for name, c := range t.Codecs {
		decoders[name] = c
	}
	return &NatsConn{
		transport: t,
		handle:    handle,
		codec:     codec,
		decoders:  decoders,
		brokers:   make(map[string]*nats.Conn),
		open:      true,
	}, nil
}

// serverURL maps a broker URI onto a NATS server URL. nats and tls URIs
// are used as given; any other scheme keeps its host and credentials.
func serverURL(uri *url.URL) string {
	if uri.Scheme == "nats" || uri.Scheme == "tls" || uri.Scheme == "ws" || uri.Scheme == "wss" {
		return uri.String()
	}
	u := url.URL{Scheme: "nats", Host: uri.Host, User: uri.User}
	return u.String()
}

func subject(addr cfxbridge.ChannelAddress) string {
	return namespace(addr.Address)
}

// NatsConn is one endpoint's connection. It keeps a NATS connection per
// broker named by the endpoint's channels.
type NatsConn struct {
	transport *NatsTransport
	handle    string
	codec     cfxbridge.Codec
	decoders  cfxbridge.Codecs

	mu            sync.Mutex
	open          bool
	brokers       map[string]*nats.Conn
	subscriptions []*nats.Subscription

	handlersMu    sync.RWMutex
	msgHandlers   handlers.List[cfxbridge.MessageHandler]
	eventHandlers handlers.List[cfxbridge.ConnectionEventHandler]
}

var _ cfxbridge.Conn = &NatsConn{}

func (c *NatsConn) dial(uri *url.URL, withEvents bool) (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.Name(c.handle),
		nats.Timeout(c.transport.DialTimeout),
	}, c.transport.Options...)
	if withEvents {
		opts = append(opts,
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				kind := cfxbridge.ConnectionOffline
				if nc.IsReconnecting() {
					kind = cfxbridge.ConnectionReconnecting
				}
				c.raiseEvent(cfxbridge.ConnectionEvent{Kind: kind, URI: uri, ErrorMessage: errorText(err), Err: err})
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionOnline, URI: uri})
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionError, URI: uri, ErrorMessage: errorText(err), Err: err})
			}),
		)
	}
	return nats.Connect(serverURL(uri), opts...)
}

// broker returns the connection for uri, dialing it on first use.
func (c *NatsConn) broker(uri *url.URL) (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, ErrClosed
	}
	key := serverURL(uri)
	if nc, ok := c.brokers[key]; ok {
		return nc, nil
	}
	nc, err := c.dial(uri, true)
	if err != nil {
		return nil, err
	}
	c.brokers[key] = nc
	c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionOnline, URI: uri})
	return nc, nil
}

// withScratch dials a throwaway connection to uri and runs fn on it.
func (c *NatsConn) withScratch(ctx context.Context, uri *url.URL, fn func(nc *nats.Conn) error) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	if uri == nil {
		return errors.New("channel has no broker URI")
	}
	nc, err := c.dial(uri, false)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := fn(nc); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); ok {
		return nc.FlushWithContext(ctx)
	}
	return nc.FlushTimeout(c.transport.DialTimeout)
}

func (c *NatsConn) TestPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	return c.withScratch(ctx, addr.URI, func(nc *nats.Conn) error {
		if subject(addr) == namespace() {
			return fmt.Errorf("target %q has no valid subject characters", addr.Address)
		}
		return nil
	})
}

func (c *NatsConn) AddPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	_, err := c.broker(addr.URI)
	return err
}

func (c *NatsConn) TestSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	return c.withScratch(ctx, addr.URI, func(nc *nats.Conn) error {
		sub, err := nc.QueueSubscribeSync(subject(addr), subject(addr))
		if err != nil {
			return err
		}
		return sub.Unsubscribe()
	})
}

func (c *NatsConn) AddSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	nc, err := c.broker(addr.URI)
	if err != nil {
		return err
	}
	natsSubject := subject(addr)
	sub, err := nc.QueueSubscribe(natsSubject, natsSubject, func(natsMsg *nats.Msg) {
		c.receive(addr, natsMsg.Data)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		sub.Unsubscribe()
		return ErrClosed
	}
	c.subscriptions = append(c.subscriptions, sub)
	return nil
}

func (c *NatsConn) Publish(ctx context.Context, env *message.Envelope, addr cfxbridge.ChannelAddress) error {
	nc, err := c.broker(addr.URI)
	if err != nil {
		return err
	}
	body, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	frameBuf, err := msgpack.Marshal(&Frame{
		Codec:  c.codec.Name(),
		Source: c.handle,
		Body:   body,
	})
	if err != nil {
		return err
	}
	return nc.Publish(subject(addr), frameBuf)
}

func (c *NatsConn) receive(source cfxbridge.ChannelAddress, data []byte) {
	env, err := c.decode(data)
	if err != nil {
		c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionError, URI: source.URI, ErrorMessage: err.Error(), Err: err})
		return
	}

	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	c.msgHandlers.Each(func(h cfxbridge.MessageHandler) {
		h(source, env)
	})
}

func (c *NatsConn) decode(data []byte) (*message.Envelope, error) {
	var frame Frame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	codec, ok := c.decoders.Lookup(frame.Codec)
	if !ok {
		return nil, fmt.Errorf("no codec named %q", frame.Codec)
	}
	var env message.Envelope
	if err := codec.Decode(frame.Body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func (c *NatsConn) raiseEvent(event cfxbridge.ConnectionEvent) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	c.eventHandlers.Each(func(h cfxbridge.ConnectionEventHandler) {
		h(event)
	})
}

func (c *NatsConn) HandleMessages(handler cfxbridge.MessageHandler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	id := c.msgHandlers.Add(handler)
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.msgHandlers.Remove(id)
	}
}

func (c *NatsConn) HandleConnectionEvents(handler cfxbridge.ConnectionEventHandler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	id := c.eventHandlers.Add(handler)
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.eventHandlers.Remove(id)
	}
}

func (c *NatsConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *NatsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false

	var err error
	for _, sub := range c.subscriptions {
		if e := sub.Unsubscribe(); e != nil && !errors.Is(e, nats.ErrConnectionClosed) {
			err = e
		}
	}
	c.subscriptions = nil
	for key, nc := range c.brokers {
		nc.Close()
		delete(c.brokers, key)
	}
	return err
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
