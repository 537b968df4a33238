package cfxbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RegistryMode selects how handles map to transport connections.
type RegistryMode int

const (
	// Multiplexed gives every handle its own endpoint and connection.
	Multiplexed RegistryMode = iota
	// Singleton shares one process-wide endpoint between all callers.
	Singleton
)

func (m RegistryMode) String() string {
	if m == Singleton {
		return "singleton"
	}
	return "multiplexed"
}

// ParseRegistryMode parses the names produced by RegistryMode.String.
func ParseRegistryMode(s string) (RegistryMode, error) {
	switch s {
	case "", "multiplexed":
		return Multiplexed, nil
	case "singleton":
		return Singleton, nil
	}
	return Multiplexed, fmt.Errorf("unknown registry mode %q", s)
}

// Registry owns the handle to Endpoint mapping and endpoint lifecycle.
type Registry interface {
	// Mode reports which lifecycle rules the registry applies.
	Mode() RegistryMode

	// OpenEndpoint creates and opens the endpoint for handle.
	OpenEndpoint(ctx context.Context, handle string) error

	// CloseEndpoint detaches the endpoint's handlers, disconnects it and
	// forgets it.
	CloseEndpoint(ctx context.Context, handle string) error

	// Lookup returns a snapshot of the endpoint for handle.
	Lookup(handle string) (EndpointInfo, error)

	// Do runs fn holding the endpoint's lock. When requireOpen is set the
	// endpoint must be open, checked in the same critical section as fn.
	Do(handle string, requireOpen bool, fn func(ep *Endpoint) error) error

	// Handles lists the handles of open endpoints.
	Handles() []string

	// Shutdown closes every open endpoint.
	Shutdown(ctx context.Context) error
}

// EndpointInfo is a point-in-time view of an Endpoint.
type EndpointInfo struct {
	Handle                  string
	State                   ConnectionState
	PublishChannels         []ChannelAddress
	SubscribeChannels       []ChannelAddress
	MessageHandlers         int
	ConnectionEventHandlers int
}

func (e *Endpoint) info() EndpointInfo {
	return EndpointInfo{
		Handle:                  e.handle,
		State:                   e.state,
		PublishChannels:         e.PublishChannels(),
		SubscribeChannels:       e.SubscribeChannels(),
		MessageHandlers:         len(e.messageBindings),
		ConnectionEventHandlers: len(e.eventBindings),
	}
}

// NewRegistry builds the registry for mode. Endpoints are opened on
// transport with codec.
func NewRegistry(mode RegistryMode, transport Transport, codec Codec, logger *zap.Logger) Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == Singleton {
		return &singletonRegistry{transport: transport, codec: codec, logger: logger}
	}
	return &multiplexedRegistry{
		transport: transport,
		codec:     codec,
		logger:    logger,
		endpoints: make(map[string]*Endpoint),
	}
}

func unknownHandle(handle string) error {
	return fmt.Errorf("%w: '%s'", ErrUnknownHandle, handle)
}

func endpointNotOpen(handle string) error {
	return fmt.Errorf("%w: '%s', open the endpoint first", ErrEndpointNotOpen, handle)
}

// multiplexedRegistry maps each handle to its own Endpoint. The map lock is
// only held to find, insert or delete records; everything else happens
// under the record's own lock so different handles proceed in parallel.
// Lock order is record then map.
type multiplexedRegistry struct {
	transport Transport
	codec     Codec
	logger    *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func (r *multiplexedRegistry) Mode() RegistryMode {
	return Multiplexed
}

func (r *multiplexedRegistry) OpenEndpoint(ctx context.Context, handle string) error {
	r.mu.Lock()
	if _, ok := r.endpoints[handle]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: '%s'", ErrDuplicateHandle, handle)
	}
	ep := newEndpoint(handle)
	// The record is new, so locking it under the map lock cannot block.
	ep.mu.Lock()
	r.endpoints[handle] = ep
	r.mu.Unlock()
	defer ep.mu.Unlock()

	conn, err := r.transport.Open(ctx, handle, r.codec)
	if err != nil {
		ep.removed = true
		r.forget(handle, ep)
		return errors.Join(fmt.Errorf("%w: could not open endpoint '%s'", ErrTransportFailure, handle), err)
	}
	ep.conn = conn
	ep.state = StateOpen

	r.logger.Info("endpoint opened", zap.String("handle", handle), zap.String("codec", r.codec.Name()))
	return nil
}

func (r *multiplexedRegistry) CloseEndpoint(ctx context.Context, handle string) error {
	ep, err := r.get(handle)
	if err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.removed {
		return unknownHandle(handle)
	}

	closeErr := ep.disconnect()
	ep.removed = true
	r.forget(handle, ep)

	if closeErr != nil {
		r.logger.Warn("endpoint closed with transport error", zap.String("handle", handle), zap.Error(closeErr))
		return errors.Join(fmt.Errorf("%w: error closing endpoint '%s'", ErrTransportFailure, handle), closeErr)
	}
	r.logger.Info("endpoint closed", zap.String("handle", handle))
	return nil
}

func (r *multiplexedRegistry) Lookup(handle string) (EndpointInfo, error) {
	var info EndpointInfo
	err := r.Do(handle, false, func(ep *Endpoint) error {
		info = ep.info()
		return nil
	})
	return info, err
}

func (r *multiplexedRegistry) Do(handle string, requireOpen bool, fn func(ep *Endpoint) error) error {
	ep, err := r.get(handle)
	if err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.removed {
		return unknownHandle(handle)
	}
	if requireOpen && !ep.isOpen() {
		return endpointNotOpen(handle)
	}
	return fn(ep)
}

func (r *multiplexedRegistry) Handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]string, 0, len(r.endpoints))
	for handle := range r.endpoints {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	return handles
}

func (r *multiplexedRegistry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, handle := range r.Handles() {
		err := r.CloseEndpoint(ctx, handle)
		if err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *multiplexedRegistry) get(handle string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[handle]
	if !ok {
		return nil, unknownHandle(handle)
	}
	return ep, nil
}

func (r *multiplexedRegistry) forget(handle string, ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpoints[handle] == ep {
		delete(r.endpoints, handle)
	}
}
