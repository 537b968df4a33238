package cfxbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RobertWHurst/cfxbridge/message"
)

type mockTransport struct {
	mu        sync.Mutex
	openFunc  func(ctx context.Context, handle string, codec Codec) (Conn, error)
	opened    []*mockConn
	openCodec []string
}

func (m *mockTransport) Open(ctx context.Context, handle string, codec Codec) (Conn, error) {
	if m.openFunc != nil {
		return m.openFunc(ctx, handle, codec)
	}
	conn := newMockConn()
	m.mu.Lock()
	m.opened = append(m.opened, conn)
	m.openCodec = append(m.openCodec, codec.Name())
	m.mu.Unlock()
	return conn, nil
}

func (m *mockTransport) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opened)
}

func (m *mockTransport) conn(i int) *mockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened[i]
}

type publishCall struct {
	env  *message.Envelope
	addr ChannelAddress
}

type mockConn struct {
	testPublishFunc   func(addr ChannelAddress) error
	addPublishFunc    func(addr ChannelAddress) error
	testSubscribeFunc func(addr ChannelAddress) error
	addSubscribeFunc  func(addr ChannelAddress) error
	publishFunc       func(env *message.Envelope, addr ChannelAddress) error
	closeFunc         func() error

	mu            sync.Mutex
	open          bool
	closeCalls    int
	publishes     []publishCall
	addPublishes  []ChannelAddress
	nextID        int
	msgHandlers   map[int]MessageHandler
	eventHandlers map[int]ConnectionEventHandler
}

func newMockConn() *mockConn {
	return &mockConn{
		open:          true,
		msgHandlers:   make(map[int]MessageHandler),
		eventHandlers: make(map[int]ConnectionEventHandler),
	}
}

func (m *mockConn) TestPublishChannel(ctx context.Context, addr ChannelAddress) error {
	if m.testPublishFunc != nil {
		return m.testPublishFunc(addr)
	}
	return nil
}

func (m *mockConn) AddPublishChannel(ctx context.Context, addr ChannelAddress) error {
	m.mu.Lock()
	m.addPublishes = append(m.addPublishes, addr)
	m.mu.Unlock()
	if m.addPublishFunc != nil {
		return m.addPublishFunc(addr)
	}
	return nil
}

func (m *mockConn) TestSubscribeChannel(ctx context.Context, addr ChannelAddress) error {
	if m.testSubscribeFunc != nil {
		return m.testSubscribeFunc(addr)
	}
	return nil
}

func (m *mockConn) AddSubscribeChannel(ctx context.Context, addr ChannelAddress) error {
	if m.addSubscribeFunc != nil {
		return m.addSubscribeFunc(addr)
	}
	return nil
}

func (m *mockConn) Publish(ctx context.Context, env *message.Envelope, addr ChannelAddress) error {
	m.mu.Lock()
	m.publishes = append(m.publishes, publishCall{env: env, addr: addr})
	m.mu.Unlock()
	if m.publishFunc != nil {
		return m.publishFunc(env, addr)
	}
	return nil
}

func (m *mockConn) HandleMessages(handler MessageHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.msgHandlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.msgHandlers, id)
	}
}

func (m *mockConn) HandleConnectionEvents(handler ConnectionEventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.eventHandlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.eventHandlers, id)
	}
}

func (m *mockConn) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *mockConn) Close() error {
	if m.closeFunc != nil {
		if err := m.closeFunc(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.closeCalls++
	return nil
}

func (m *mockConn) setOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = open
}

// emitMessage raises env to every registered message handler, the way a
// transport's dispatch goroutine would.
func (m *mockConn) emitMessage(env *message.Envelope) {
	m.mu.Lock()
	handlers := make([]MessageHandler, 0, len(m.msgHandlers))
	for _, h := range m.msgHandlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ChannelAddress{Address: "queue"}, env)
	}
}

func (m *mockConn) emitEvent(kind ConnectionEventKind) {
	m.mu.Lock()
	handlers := make([]ConnectionEventHandler, 0, len(m.eventHandlers))
	for _, h := range m.eventHandlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ConnectionEvent{Kind: kind, SpoolSize: 7, ErrorMessage: "detail"})
	}
}

func (m *mockConn) handlerCounts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgHandlers), len(m.eventHandlers)
}

func (m *mockConn) publishCalls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.publishes...)
}

type mockEncoder struct {
	name       string
	encodeFunc func(v any) ([]byte, error)
	decodeFunc func(data []byte, v any) error
}

func (m *mockEncoder) Name() string {
	return m.name
}

func (m *mockEncoder) Encode(v any) ([]byte, error) {
	if m.encodeFunc != nil {
		return m.encodeFunc(v)
	}
	return []byte("encoded"), nil
}

func (m *mockEncoder) Decode(data []byte, v any) error {
	if m.decodeFunc != nil {
		return m.decodeFunc(data, v)
	}
	return nil
}

func testEnvelope(t *testing.T, name string) *message.Envelope {
	t.Helper()
	msg, err := message.Parse(`{"MessageName":"` + name + `"}`)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return message.NewEnvelope(msg, "peer")
}

// recorder collects callback payloads.
type recorder struct {
	mu       sync.Mutex
	payloads []any
	notify   chan struct{}
	err      error
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1000)}
}

func (r *recorder) callback(payload any) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	err := r.err
	r.mu.Unlock()
	r.notify <- struct{}{}
	return err
}

func (r *recorder) waitFor(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.payloads) >= n {
			out := append([]any(nil), r.payloads...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("Expected %d callback invocations within timeout", n)
		}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

var bothModes = []struct {
	name string
	mode RegistryMode
}{
	{name: "multiplexed", mode: Multiplexed},
	{name: "singleton", mode: Singleton},
}
