package cfxbridge

import (
	"fmt"
	"sync"

	"github.com/RobertWHurst/cfxbridge/message"
)

// Callback is a caller supplied function invoked with event payloads.
// Message callbacks receive the envelope as JSON text (multiplexed mode) or
// as a *message.Envelope (singleton mode). Connection event callbacks
// receive the event name as a string.
type Callback func(payload any) error

// FailurePolicy receives every error returned, or panic raised, by a
// Callback, along with any error preparing a payload for it.
type FailurePolicy func(err error)

// DiscardFailures is the default FailurePolicy. Callback failures never
// reach the transport or the registry and are not logged.
func DiscardFailures(error) {}

// handlerAdapter hands transport events to a Callback on its own goroutine.
// Transport dispatch only appends to the mailbox so it never waits on the
// callback, and the single drain goroutine keeps events in raise order.
type handlerAdapter struct {
	callback Callback
	failures FailurePolicy

	mu       sync.Mutex
	queue    []any
	detached bool

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newHandlerAdapter(callback Callback, failures FailurePolicy) *handlerAdapter {
	if failures == nil {
		failures = DiscardFailures
	}
	a := &handlerAdapter{
		callback: callback,
		failures: failures,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// deliver queues payload for the callback and returns immediately.
func (a *handlerAdapter) deliver(payload any) {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, payload)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// detach stops delivery. Queued payloads that have not reached the callback
// are dropped; a callback already running is left to finish.
func (a *handlerAdapter) detach() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.detached = true
		a.queue = nil
		a.mu.Unlock()
		close(a.done)
	})
}

func (a *handlerAdapter) run() {
	for {
		select {
		case <-a.done:
			return
		case <-a.notify:
		}
		for {
			payload, ok := a.next()
			if !ok {
				break
			}
			a.invoke(payload)
		}
	}
}

func (a *handlerAdapter) next() (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached || len(a.queue) == 0 {
		return nil, false
	}
	payload := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]
	return payload, true
}

func (a *handlerAdapter) invoke(payload any) {
	defer func() {
		if r := recover(); r != nil {
			a.failures(fmt.Errorf("callback panicked: %v", r))
		}
	}()
	if err := a.callback(payload); err != nil {
		a.failures(err)
	}
}

// binding ties an adapter to the transport registration feeding it.
type binding struct {
	adapter *handlerAdapter
	remove  func()
}

// unbind removes the transport registration first so no further events are
// raised into the adapter, then stops the adapter.
func (b *binding) unbind() {
	if b.remove != nil {
		b.remove()
	}
	b.adapter.detach()
}

// PayloadForm selects what a message callback receives.
type PayloadForm int

const (
	// PayloadJSON hands callbacks the envelope serialized as JSON text.
	PayloadJSON PayloadForm = iota
	// PayloadEnvelope hands callbacks the *message.Envelope itself.
	PayloadEnvelope
)

func messageHandlerFor(a *handlerAdapter, form PayloadForm) MessageHandler {
	return func(_ ChannelAddress, env *message.Envelope) {
		if form == PayloadEnvelope {
			a.deliver(env)
			return
		}
		text, err := env.ToJSON()
		if err != nil {
			a.failures(err)
			return
		}
		a.deliver(text)
	}
}

func connectionEventHandlerFor(a *handlerAdapter) ConnectionEventHandler {
	return func(event ConnectionEvent) {
		a.deliver(event.Kind.String())
	}
}
