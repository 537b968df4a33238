// Package amqp provides an AMQP 1.0 transport for the bridge. Publish
// targets are sender link targets and subscribe source queues are receiver
// link sources. The codec used for a message body travels in the
// application properties.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/internal/handlers"
	"github.com/RobertWHurst/cfxbridge/message"
)

// DialTimeout is the default time allowed to reach a broker.
const DialTimeout = 10 * time.Second

// CodecProperty is the application property naming a body's codec.
const CodecProperty = "cfx-codec"

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("amqp connection closed")

// Transport implements cfxbridge.Transport over AMQP 1.0.
type Transport struct {
	DialTimeout time.Duration
	Codecs      cfxbridge.Codecs
}

var _ cfxbridge.Transport = &Transport{}

// New creates an AMQP transport. Inbound bodies may use any of codecs in
// addition to the codec each endpoint is opened with.
func New(codecs ...cfxbridge.Codec) *Transport {
	return &Transport{
		DialTimeout: DialTimeout,
		Codecs:      cfxbridge.NewCodecs(codecs...),
	}
}

func (t *Transport) Open(ctx context.Context, handle string, codec cfxbridge.Codec) (cfxbridge.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoders := cfxbridge.NewCodecs(codec)
	for name, c := range t.Codecs {
		decoders[name] = c
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Conn{
		transport: t,
		handle:    handle,
		codec:     codec,
		decoders:  decoders,
		runCtx:    runCtx,
		cancel:    cancel,
		brokers:   make(map[string]*brokerLink),
		open:      true,
	}, nil
}

// brokerKey identifies a broker by everything but the path; the path of a
// CFX broker URI names an exchange, not a different connection.
func brokerKey(uri *url.URL) string {
	u := url.URL{Scheme: uri.Scheme, Host: uri.Host, User: uri.User}
	return u.String()
}

type brokerLink struct {
	conn    *amqp.Conn
	session *amqp.Session
	senders map[string]*amqp.Sender
}

// Conn is one endpoint's AMQP connection set, one AMQP connection per
// broker named by the endpoint's channels.
type Conn struct {
	transport *Transport
	handle    string
	codec     cfxbridge.Codec
	decoders  cfxbridge.Codecs
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	open      bool
	brokers   map[string]*brokerLink
	receivers []*amqp.Receiver

	handlersMu    sync.RWMutex
	msgHandlers   handlers.List[cfxbridge.MessageHandler]
	eventHandlers handlers.List[cfxbridge.ConnectionEventHandler]
}

var _ cfxbridge.Conn = &Conn{}

func (c *Conn) dial(ctx context.Context, uri *url.URL) (*amqp.Conn, *amqp.Session, error) {
	if uri == nil {
		return nil, nil, errors.New("channel has no broker URI")
	}
	ctx, cancel := context.WithTimeout(ctx, c.transport.DialTimeout)
	defer cancel()

	opts := &amqp.ConnOptions{ContainerID: c.handle, SASLType: amqp.SASLTypeAnonymous()}
	if uri.User != nil {
		password, _ := uri.User.Password()
		opts.SASLType = amqp.SASLTypePlain(uri.User.Username(), password)
	}
	addr := url.URL{Scheme: uri.Scheme, Host: uri.Host}
	conn, err := amqp.Dial(ctx, addr.String(), opts)
	if err != nil {
		return nil, nil, err
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, session, nil
}

// broker returns the link for uri, dialing it on first use. Caller holds mu.
func (c *Conn) broker(ctx context.Context, uri *url.URL) (*brokerLink, error) {
	if !c.open {
		return nil, ErrClosed
	}
	key := brokerKey(uri)
	if link, ok := c.brokers[key]; ok {
		return link, nil
	}
	conn, session, err := c.dial(ctx, uri)
	if err != nil {
		return nil, err
	}
	link := &brokerLink{conn: conn, session: session, senders: make(map[string]*amqp.Sender)}
	c.brokers[key] = link
	c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionOnline, URI: uri})
	return link, nil
}

func (c *Conn) sender(ctx context.Context, addr cfxbridge.ChannelAddress) (*amqp.Sender, error) {
	link, err := c.broker(ctx, addr.URI)
	if err != nil {
		return nil, err
	}
	if s, ok := link.senders[addr.Address]; ok {
		return s, nil
	}
	s, err := link.session.NewSender(ctx, addr.Address, nil)
	if err != nil {
		return nil, err
	}
	link.senders[addr.Address] = s
	return s, nil
}

// withScratch opens a throwaway connection to addr's broker and runs fn on it.
func (c *Conn) withScratch(ctx context.Context, addr cfxbridge.ChannelAddress, fn func(session *amqp.Session) error) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	conn, session, err := c.dial(ctx, addr.URI)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(session)
}

func (c *Conn) TestPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	return c.withScratch(ctx, addr, func(session *amqp.Session) error {
		s, err := session.NewSender(ctx, addr.Address, nil)
		if err != nil {
			return err
		}
		return s.Close(ctx)
	})
}

func (c *Conn) AddPublishChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.sender(ctx, addr)
	return err
}

func (c *Conn) TestSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	return c.withScratch(ctx, addr, func(session *amqp.Session) error {
		r, err := session.NewReceiver(ctx, addr.Address, nil)
		if err != nil {
			return err
		}
		return r.Close(ctx)
	})
}

func (c *Conn) AddSubscribeChannel(ctx context.Context, addr cfxbridge.ChannelAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, err := c.broker(ctx, addr.URI)
	if err != nil {
		return err
	}
	r, err := link.session.NewReceiver(ctx, addr.Address, nil)
	if err != nil {
		return err
	}
	c.receivers = append(c.receivers, r)

	c.wg.Add(1)
	go c.consume(r, addr)
	return nil
}

// consume receives from r until the connection closes, raising decoded
// envelopes to the message handlers in arrival order.
func (c *Conn) consume(r *amqp.Receiver, addr cfxbridge.ChannelAddress) {
	defer c.wg.Done()
	for {
		msg, err := r.Receive(c.runCtx, nil)
		if err != nil {
			if c.runCtx.Err() != nil {
				return
			}
			kind := cfxbridge.ConnectionError
			var connErr *amqp.ConnError
			if errors.As(err, &connErr) {
				kind = cfxbridge.ConnectionOffline
			}
			c.raiseEvent(cfxbridge.ConnectionEvent{Kind: kind, URI: addr.URI, ErrorMessage: err.Error(), Err: err})
			return
		}

		env, err := c.decode(msg)
		if err != nil {
			c.raiseEvent(cfxbridge.ConnectionEvent{Kind: cfxbridge.ConnectionError, URI: addr.URI, ErrorMessage: err.Error(), Err: err})
			r.RejectMessage(c.runCtx, msg, nil)
			continue
		}
		if err := r.AcceptMessage(c.runCtx, msg); err != nil && c.runCtx.Err() != nil {
			return
		}
		c.dispatch(addr, env)
	}
}

func (c *Conn) decode(msg *amqp.Message) (*message.Envelope, error) {
	name := c.codec.Name()
	if v, ok := msg.ApplicationProperties[CodecProperty].(string); ok && v != "" {
		name = v
	}
	codec, ok := c.decoders.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no codec named %q", name)
	}
	var env message.Envelope
	if err := codec.Decode(msg.GetData(), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func (c *Conn) Publish(ctx context.Context, env *message.Envelope, addr cfxbridge.ChannelAddress) error {
	body, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	msg := amqp.NewMessage(body)
	msg.ApplicationProperties = map[string]any{CodecProperty: c.codec.Name()}

	c.mu.Lock()
	s, err := c.sender(ctx, addr)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Send(ctx, msg, nil)
}

func (c *Conn) dispatch(source cfxbridge.ChannelAddress, env *message.Envelope) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	c.msgHandlers.Each(func(h cfxbridge.MessageHandler) {
		h(source, env)
	})
}

func (c *Conn) raiseEvent(event cfxbridge.ConnectionEvent) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	c.eventHandlers.Each(func(h cfxbridge.ConnectionEventHandler) {
		h(event)
	})
}

func (c *Conn) HandleMessages(handler cfxbridge.MessageHandler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	id := c.msgHandlers.Add(handler)
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.msgHandlers.Remove(id)
	}
}

func (c *Conn) HandleConnectionEvents(handler cfxbridge.ConnectionEventHandler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	id := c.eventHandlers.Add(handler)
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.eventHandlers.Remove(id)
	}
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.cancel()
	brokers := c.brokers
	c.brokers = make(map[string]*brokerLink)
	c.receivers = nil
	c.mu.Unlock()

	c.wg.Wait()

	var errs []error
	for _, link := range brokers {
		if err := link.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
