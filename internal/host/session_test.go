package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/message"
	"github.com/RobertWHurst/cfxbridge/transports/loopback"
)

type frameLog struct {
	mu     sync.Mutex
	frames []any
}

func (f *frameLog) write(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *frameLog) events(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		var events []Event
		for _, frame := range f.frames {
			if e, ok := frame.(Event); ok {
				events = append(events, e)
			}
		}
		f.mu.Unlock()
		if len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d events within timeout", n)
	return nil
}

func newTestSession(t *testing.T, opts ...cfxbridge.Option) (*Session, *frameLog, *loopback.Broker) {
	t.Helper()
	broker := loopback.NewBroker()
	bridge := cfxbridge.New(loopback.New(broker), opts...)
	t.Cleanup(func() { _ = bridge.Close(context.Background()) })
	log := &frameLog{}
	return NewSession(bridge, log.write, nil), log, broker
}

func mustOK(t *testing.T, res Response) {
	t.Helper()
	if !res.OK {
		t.Fatalf("Expected ok response, got %s: %s", res.Code, res.Error)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	session, log, broker := newTestSession(t)

	mustOK(t, session.Handle(ctx, Request{ID: "1", Op: OpOpen, Handle: "line1"}))
	mustOK(t, session.Handle(ctx, Request{ID: "2", Op: OpOpen, Handle: "line2"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpRegisterListener, Handle: "line2"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpRegisterConnectionEvents, Handle: "line2"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpAddSubscribeChannel, Handle: "line2", BrokerURI: "amqp://broker", SourceQueue: "inbox"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpAddPublishChannel, Handle: "line1", BrokerURI: "amqp://broker", AMQPTarget: "inbox"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpPublish, Handle: "line1", BrokerURI: "amqp://broker", AMQPTarget: "inbox", DataJSON: `{"MessageName":"Heartbeat"}`}))

	events := log.events(t, 1)
	if events[0].Event != EventMessage || events[0].Handle != "line2" {
		t.Errorf("Unexpected event %+v", events[0])
	}
	payload, ok := events[0].Payload.(string)
	if !ok {
		t.Fatalf("Expected JSON text payload, got %T", events[0].Payload)
	}
	var env message.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("Payload is not an envelope: %v", err)
	}
	if env.MessageName != "Heartbeat" || env.Source != "line1" {
		t.Errorf("Unexpected envelope %+v", env)
	}

	broker.Down("broker")
	events = log.events(t, 2)
	if events[1].Event != EventConnection || events[1].Payload != "Offline" {
		t.Errorf("Expected Offline connection event, got %+v", events[1])
	}

	res := session.Handle(ctx, Request{ID: "h", Op: OpHandles})
	mustOK(t, res)
	if len(res.Handles) != 2 {
		t.Errorf("Expected 2 handles, got %v", res.Handles)
	}
	if res.ID != "h" {
		t.Errorf("Expected id echoed, got %q", res.ID)
	}
}

func TestSessionErrorCodes(t *testing.T) {
	ctx := context.Background()
	session, _, _ := newTestSession(t)
	mustOK(t, session.Handle(ctx, Request{Op: OpOpen, Handle: "line1"}))

	tests := []struct {
		req  Request
		code string
	}{
		{Request{Op: OpOpen, Handle: "line1"}, "DuplicateHandle"},
		{Request{Op: OpClose, Handle: "ghost"}, "UnknownHandle"},
		{Request{Op: OpOpen}, "InvalidRequest"},
		{Request{Op: "explode", Handle: "line1"}, "InvalidRequest"},
		{Request{Op: OpPublish, Handle: "line1", BrokerURI: "amqp://broker", AMQPTarget: "events", DataJSON: "{"}, "DeserializationFailed"},
		{Request{Op: OpUnregisterListener, Handle: "line1"}, "NoHandlerRegistered"},
	}

	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.req.Op, func(t *testing.T) {
			res := session.Handle(ctx, tt.req)
			if res.OK {
				t.Fatal("Expected failure")
			}
			if res.Code != tt.code {
				t.Errorf("Expected code %s, got %s (%s)", tt.code, res.Code, res.Error)
			}
			if res.ID == "" {
				t.Error("Expected generated id")
			}
		})
	}
}

func TestSessionCloseReleasesEndpoints(t *testing.T) {
	ctx := context.Background()
	session, _, _ := newTestSession(t)
	mustOK(t, session.Handle(ctx, Request{Op: OpOpen, Handle: "line1"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpOpen, Handle: "line2"}))
	mustOK(t, session.Handle(ctx, Request{Op: OpClose, Handle: "line2"}))

	session.Close(ctx)
	if handles := session.bridge.Handles(); len(handles) != 0 {
		t.Errorf("Expected session endpoints closed, got %v", handles)
	}
}

func TestSessionCloseKeepsSharedEndpoint(t *testing.T) {
	ctx := context.Background()
	session, _, _ := newTestSession(t, cfxbridge.WithMode(cfxbridge.Singleton))
	mustOK(t, session.Handle(ctx, Request{Op: OpOpen, Handle: "shared"}))

	session.Close(ctx)
	if handles := session.bridge.Handles(); len(handles) != 1 {
		t.Errorf("Expected shared endpoint kept open, got %v", handles)
	}
}

func TestSessionHandleLineMalformed(t *testing.T) {
	session, log, _ := newTestSession(t)
	if err := session.HandleLine(context.Background(), []byte("{nope")); err != nil {
		t.Fatalf("HandleLine failed: %v", err)
	}
	res, ok := log.frames[0].(Response)
	if !ok || res.OK || res.Code != "InvalidRequest" {
		t.Errorf("Expected InvalidRequest response, got %+v", log.frames[0])
	}
	if res.ID != "" {
		t.Errorf("Expected empty id for unreadable request, got '%s'", res.ID)
	}
}

func TestSessionHandleLineMalformedEchoesID(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "wrong field type", line: `{"id":"7","op":"open","handle":5}`},
		{name: "id after bad field", line: `{"op":["open"],"id":"7"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, log, _ := newTestSession(t)
			if err := session.HandleLine(context.Background(), []byte(tt.line)); err != nil {
				t.Fatalf("HandleLine failed: %v", err)
			}
			res, ok := log.frames[0].(Response)
			if !ok || res.OK || res.Code != "InvalidRequest" {
				t.Fatalf("Expected InvalidRequest response, got %+v", log.frames[0])
			}
			if res.ID != "7" {
				t.Errorf("Expected id '7', got '%s'", res.ID)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("%w: 'line1'", cfxbridge.ErrEndpointNotOpen)
	if code := ErrorCode(wrapped); code != "EndpointNotOpen" {
		t.Errorf("Expected EndpointNotOpen, got %s", code)
	}
	joined := errors.Join(fmt.Errorf("%w: inbox", cfxbridge.ErrChannelValidationFailed), errors.New("refused"))
	if code := ErrorCode(joined); code != "ChannelValidationFailed" {
		t.Errorf("Expected ChannelValidationFailed, got %s", code)
	}
	if code := ErrorCode(errors.New("other")); code != "Internal" {
		t.Errorf("Expected Internal, got %s", code)
	}
}
