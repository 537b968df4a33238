package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RobertWHurst/cfxbridge"
)

// WriteFunc writes one frame to a client.
type WriteFunc func(frame any) error

// Session is one client's view of the bridge. Responses and callback events
// share the client's connection, so writes are serialized.
type Session struct {
	bridge *cfxbridge.Bridge
	logger *zap.Logger

	writeMu sync.Mutex
	write   WriteFunc

	mu     sync.Mutex
	opened map[string]struct{}
}

// NewSession creates a session writing frames with write.
func NewSession(bridge *cfxbridge.Bridge, write WriteFunc, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		bridge: bridge,
		logger: logger,
		write:  write,
		opened: make(map[string]struct{}),
	}
}

// HandleLine decodes one request line, runs it and writes the response.
func (s *Session) HandleLine(ctx context.Context, line []byte) error {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		// A type error still decodes the remaining fields, so the id is
		// echoed when it was readable. A syntax error leaves it empty.
		return s.send(Response{
			ID:    req.ID,
			Code:  "InvalidRequest",
			Error: fmt.Sprintf("malformed request: %v", err),
		})
	}
	return s.send(s.Handle(ctx, req))
}

// Handle runs req against the bridge.
func (s *Session) Handle(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	res := Response{ID: req.ID}

	var err error
	switch req.Op {
	case OpOpen:
		err = s.bridge.OpenCFXEndpoint(ctx, cfxbridge.OpenRequest{Handle: req.Handle})
		if err == nil {
			s.track(req.Handle, true)
		}
	case OpClose:
		err = s.bridge.CloseCFXEndpoint(ctx, cfxbridge.CloseRequest{Handle: req.Handle})
		if err == nil {
			s.track(req.Handle, false)
		}
	case OpAddPublishChannel:
		err = s.bridge.AddPublishChannel(ctx, cfxbridge.AddPublishChannelRequest{
			Handle:     req.Handle,
			BrokerURI:  req.BrokerURI,
			AMQPTarget: req.AMQPTarget,
		})
	case OpAddSubscribeChannel:
		err = s.bridge.AddSubscribeChannel(ctx, cfxbridge.AddSubscribeChannelRequest{
			Handle:      req.Handle,
			BrokerURI:   req.BrokerURI,
			SourceQueue: req.SourceQueue,
		})
	case OpPublish:
		err = s.bridge.PublishMessage(ctx, cfxbridge.PublishRequest{
			Handle:     req.Handle,
			BrokerURI:  req.BrokerURI,
			AMQPTarget: req.AMQPTarget,
			DataJSON:   req.DataJSON,
		})
	case OpRegisterListener:
		err = s.bridge.RegisterListenerCallback(ctx, cfxbridge.RegisterListenerRequest{
			Handle:   req.Handle,
			Callback: s.forward(EventMessage, req.Handle),
		})
	case OpUnregisterListener:
		err = s.bridge.UnregisterListenerCallback(ctx, cfxbridge.UnregisterListenerRequest{Handle: req.Handle})
	case OpRegisterConnectionEvents:
		err = s.bridge.RegisterConnectionEventCallback(ctx, cfxbridge.RegisterConnectionEventRequest{
			Handle:   req.Handle,
			Callback: s.forward(EventConnection, req.Handle),
		})
	case OpHandles:
		res.Handles = s.bridge.Handles()
	default:
		err = fmt.Errorf("%w: unknown op %q", cfxbridge.ErrInvalidRequest, req.Op)
	}

	if err != nil {
		res.Code = ErrorCode(err)
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}

// Close closes the endpoints this session opened that are still open. A
// shared singleton endpoint is left to the bridge's own shutdown.
func (s *Session) Close(ctx context.Context) {
	if s.bridge.Mode() == cfxbridge.Singleton {
		return
	}
	s.mu.Lock()
	handles := make([]string, 0, len(s.opened))
	for h := range s.opened {
		handles = append(handles, h)
	}
	s.opened = make(map[string]struct{})
	s.mu.Unlock()

	for _, h := range handles {
		if err := s.bridge.CloseCFXEndpoint(ctx, cfxbridge.CloseRequest{Handle: h}); err != nil {
			s.logger.Debug("session endpoint already gone", zap.String("handle", h), zap.Error(err))
		}
	}
}

func (s *Session) track(handle string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.opened[handle] = struct{}{}
	} else {
		delete(s.opened, handle)
	}
}

// forward returns a callback writing payloads to the client as events. A
// write failure is returned to the bridge, which discards it.
func (s *Session) forward(event, handle string) cfxbridge.Callback {
	return func(payload any) error {
		return s.send(Event{Event: event, Handle: handle, Payload: payload})
	}
}

func (s *Session) send(frame any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write(frame)
}
