package cfxbridge

import (
	"context"
	"errors"
	"fmt"
)

// ChannelValidator tests proposed channels against an endpoint's
// connection before the registry commits them. A failed test leaves the
// endpoint's channel sets untouched.
type ChannelValidator struct{}

// ValidatePublishChannel tests that the endpoint can publish to target on
// the broker named by addr.
func (ChannelValidator) ValidatePublishChannel(ctx context.Context, ep *Endpoint, addr ChannelAddress) error {
	if err := ep.conn.TestPublishChannel(ctx, addr); err != nil {
		return errors.Join(fmt.Errorf("%w: publish channel %s, double check the broker URI and AMQP target", ErrChannelValidationFailed, addr), err)
	}
	return nil
}

// ValidateSubscribeChannel tests that the endpoint can consume from the
// source queue on the broker named by addr.
func (ChannelValidator) ValidateSubscribeChannel(ctx context.Context, ep *Endpoint, addr ChannelAddress) error {
	if err := ep.conn.TestSubscribeChannel(ctx, addr); err != nil {
		return errors.Join(fmt.Errorf("%w: subscribe channel %s, double check the broker URI and source queue name", ErrChannelValidationFailed, addr), err)
	}
	return nil
}
