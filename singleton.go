package cfxbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// singletonRegistry shares one endpoint between every caller. Opening an
// open endpoint and closing a closed one are silent successes. The record
// outlives close so a closed endpoint reports EndpointNotOpen rather than
// UnknownHandle; only an endpoint that was never opened is unknown, and
// closing it fails like any other unknown handle.
type singletonRegistry struct {
	transport Transport
	codec     Codec
	logger    *zap.Logger

	mu sync.Mutex
	ep *Endpoint
}

func (r *singletonRegistry) Mode() RegistryMode {
	return Singleton
}

func (r *singletonRegistry) OpenEndpoint(ctx context.Context, handle string) error {
	var ep *Endpoint
	for {
		r.mu.Lock()
		if r.ep == nil {
			r.ep = newEndpoint(handle)
		}
		ep = r.ep
		r.mu.Unlock()

		ep.mu.Lock()
		if !ep.removed {
			break
		}
		// A concurrent first open failed and discarded this record.
		ep.mu.Unlock()
	}
	defer ep.mu.Unlock()
	if ep.state == StateOpen {
		return nil
	}

	conn, err := r.transport.Open(ctx, handle, r.codec)
	if err != nil {
		if ep.conn == nil {
			// Never opened: forget the record so the endpoint stays unknown.
			ep.removed = true
			r.mu.Lock()
			if r.ep == ep {
				r.ep = nil
			}
			r.mu.Unlock()
		}
		return errors.Join(fmt.Errorf("%w: could not open endpoint '%s'", ErrTransportFailure, handle), err)
	}
	ep.handle = handle
	ep.conn = conn
	ep.state = StateOpen

	r.logger.Info("shared endpoint opened", zap.String("handle", handle), zap.String("codec", r.codec.Name()))
	return nil
}

func (r *singletonRegistry) CloseEndpoint(ctx context.Context, handle string) error {
	ep := r.current()
	if ep == nil {
		return unknownHandle(handle)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.removed {
		return unknownHandle(handle)
	}
	if ep.state != StateOpen {
		return nil
	}

	if err := ep.disconnect(); err != nil {
		r.logger.Warn("shared endpoint closed with transport error", zap.String("handle", ep.handle), zap.Error(err))
		return errors.Join(fmt.Errorf("%w: error closing endpoint '%s'", ErrTransportFailure, ep.handle), err)
	}
	r.logger.Info("shared endpoint closed", zap.String("handle", ep.handle))
	return nil
}

func (r *singletonRegistry) Lookup(handle string) (EndpointInfo, error) {
	var info EndpointInfo
	err := r.Do(handle, false, func(ep *Endpoint) error {
		info = ep.info()
		return nil
	})
	return info, err
}

func (r *singletonRegistry) Do(handle string, requireOpen bool, fn func(ep *Endpoint) error) error {
	ep := r.current()
	if ep == nil {
		return unknownHandle(handle)
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

func (r *singletonRegistry) Handles() []string {
	ep := r.current()
	if ep == nil {
		return nil
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.state != StateOpen {
		return nil
	}
	return []string{ep.handle}
}

func (r *singletonRegistry) Shutdown(ctx context.Context) error {
	if r.current() == nil {
		return nil
	}
	return r.CloseEndpoint(ctx, "")
}

func (r *singletonRegistry) current() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ep
}
