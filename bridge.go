// Package cfxbridge multiplexes logical endpoints onto a publish/subscribe
// transport behind a handle addressed control surface. Callers open and
// close endpoints, attach tested publish and subscribe channels, publish
// messages, and bind callbacks for inbound messages and connection events.
// Callback failures are isolated from the bridge and the transport.
package cfxbridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RobertWHurst/cfxbridge/message"
)

// Bridge is the control surface. It is safe for concurrent use; calls for
// different handles proceed in parallel.
type Bridge struct {
	registry  Registry
	validator ChannelValidator
	exclusive bool
	form      PayloadForm
	failures  FailurePolicy
	logger    *zap.Logger
}

// New creates a Bridge whose endpoints connect through transport.
func New(transport Transport, opts ...Option) *Bridge {
	o := defaultOpts()
	for _, fn := range opts {
		fn(&o)
	}

	b := &Bridge{
		registry:  NewRegistry(o.mode, transport, o.codec, o.logger),
		exclusive: true,
		form:      PayloadJSON,
		failures:  o.failures,
		logger:    o.logger,
	}
	if o.mode == Singleton {
		b.form = PayloadEnvelope
		b.exclusive = o.policy == ExclusiveHandlers
	}
	return b
}

// Registry exposes the bridge's endpoint registry.
func (b *Bridge) Registry() Registry {
	return b.registry
}

// Mode reports the registry mode the bridge was built with.
func (b *Bridge) Mode() RegistryMode {
	return b.registry.Mode()
}

// OpenCFXEndpoint opens the endpoint for req.Handle.
func (b *Bridge) OpenCFXEndpoint(ctx context.Context, req OpenRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return b.logged("open endpoint", req.Handle, b.registry.OpenEndpoint(ctx, req.Handle))
}

// CloseCFXEndpoint unbinds the endpoint's callbacks, disconnects it and
// removes it.
func (b *Bridge) CloseCFXEndpoint(ctx context.Context, req CloseRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return b.logged("close endpoint", req.Handle, b.registry.CloseEndpoint(ctx, req.Handle))
}

// AddPublishChannel tests the publish channel and, if reachable, adds it to
// the endpoint.
func (b *Bridge) AddPublishChannel(ctx context.Context, req AddPublishChannelRequest) error {
	addr, err := req.channel()
	if err != nil {
		return err
	}
	err = b.registry.Do(req.Handle, true, func(ep *Endpoint) error {
		if err := b.validator.ValidatePublishChannel(ctx, ep, addr); err != nil {
			return err
		}
		return ep.commitPublishChannel(ctx, addr)
	})
	return b.logged("add publish channel", req.Handle, err)
}

// AddSubscribeChannel tests the subscribe channel and, if reachable, adds
// it to the endpoint.
func (b *Bridge) AddSubscribeChannel(ctx context.Context, req AddSubscribeChannelRequest) error {
	addr, err := req.channel()
	if err != nil {
		return err
	}
	err = b.registry.Do(req.Handle, true, func(ep *Endpoint) error {
		if err := b.validator.ValidateSubscribeChannel(ctx, ep, addr); err != nil {
			return err
		}
		return ep.commitSubscribeChannel(ctx, addr)
	})
	return b.logged("add subscribe channel", req.Handle, err)
}

// PublishMessage decodes req.DataJSON and sends it from the endpoint to the
// given broker and target.
func (b *Bridge) PublishMessage(ctx context.Context, req PublishRequest) error {
	addr, err := req.channel()
	if err != nil {
		return err
	}
	err = b.registry.Do(req.Handle, true, func(ep *Endpoint) error {
		msg, err := message.Parse(req.DataJSON)
		if err != nil {
			return errors.Join(fmt.Errorf("%w: dataJSON", ErrDeserializationFailed), err)
		}
		env := message.NewEnvelope(msg, ep.Handle())
		env.Target = addr.Address
		if err := ep.conn.Publish(ctx, env, addr); err != nil {
			return errors.Join(fmt.Errorf("%w: could not publish to %s", ErrTransportFailure, addr), err)
		}
		b.logger.Debug("message published",
			zap.String("handle", ep.Handle()),
			zap.String("message", msg.Name),
			zap.Stringer("channel", addr))
		return nil
	})
	return b.logged("publish message", req.Handle, err)
}

// RegisterListenerCallback binds req.Callback to the endpoint's inbound
// messages.
func (b *Bridge) RegisterListenerCallback(ctx context.Context, req RegisterListenerRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	err := b.registry.Do(req.Handle, true, func(ep *Endpoint) error {
		return ep.bindMessages(req.Callback, b.form, b.failures, b.exclusive)
	})
	return b.logged("register listener callback", req.Handle, err)
}

// UnregisterListenerCallback removes the endpoint's message callbacks.
func (b *Bridge) UnregisterListenerCallback(ctx context.Context, req UnregisterListenerRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	err := b.registry.Do(req.Handle, false, func(ep *Endpoint) error {
		return ep.unbindMessages()
	})
	return b.logged("unregister listener callback", req.Handle, err)
}

// RegisterConnectionEventCallback binds req.Callback to the endpoint's
// connection state changes. The binding lasts until the endpoint closes.
func (b *Bridge) RegisterConnectionEventCallback(ctx context.Context, req RegisterConnectionEventRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	err := b.registry.Do(req.Handle, false, func(ep *Endpoint) error {
		// A dropped connection still raises events worth hearing, so only
		// the recorded state is checked here.
		if ep.state != StateOpen {
			return endpointNotOpen(ep.handle)
		}
		return ep.bindConnectionEvents(req.Callback, b.failures, b.exclusive)
	})
	return b.logged("register connection event callback", req.Handle, err)
}

// Lookup returns a snapshot of the endpoint for handle.
func (b *Bridge) Lookup(handle string) (EndpointInfo, error) {
	return b.registry.Lookup(handle)
}

// Handles lists open endpoint handles.
func (b *Bridge) Handles() []string {
	return b.registry.Handles()
}

// Close closes every open endpoint.
func (b *Bridge) Close(ctx context.Context) error {
	return b.registry.Shutdown(ctx)
}

func (b *Bridge) logged(op, handle string, err error) error {
	if err != nil {
		b.logger.Debug(op+" failed", zap.String("handle", handle), zap.Error(err))
		return err
	}
	b.logger.Debug(op, zap.String("handle", handle))
	return nil
}
