package cfxbridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RobertWHurst/cfxbridge/encoders/json"
)

// HandlerPolicy decides whether a singleton endpoint holds one handler per
// kind or accumulates them. Multiplexed endpoints always hold one.
type HandlerPolicy int

const (
	// DefaultHandlerPolicy is ExclusiveHandlers for multiplexed registries
	// and AccumulateHandlers for singleton ones.
	DefaultHandlerPolicy HandlerPolicy = iota
	// ExclusiveHandlers rejects a second registration with
	// ErrHandlerAlreadyRegistered.
	ExclusiveHandlers
	// AccumulateHandlers appends registrations to an ordered list.
	AccumulateHandlers
)

func (p HandlerPolicy) String() string {
	switch p {
	case ExclusiveHandlers:
		return "exclusive"
	case AccumulateHandlers:
		return "accumulate"
	}
	return "default"
}

// ParseHandlerPolicy parses the names produced by HandlerPolicy.String.
func ParseHandlerPolicy(s string) (HandlerPolicy, error) {
	switch s {
	case "", "default":
		return DefaultHandlerPolicy, nil
	case "exclusive":
		return ExclusiveHandlers, nil
	case "accumulate":
		return AccumulateHandlers, nil
	}
	return DefaultHandlerPolicy, fmt.Errorf("unknown handler policy %q", s)
}

// Option configures a Bridge.
type Option func(*bridgeOpts)

type bridgeOpts struct {
	mode     RegistryMode  // Endpoint lifecycle rules
	policy   HandlerPolicy // Singleton handler accumulation
	codec    Codec         // Codec endpoints are opened with
	failures FailurePolicy // Receives callback failures
	logger   *zap.Logger
}

// defaultOpts opens multiplexed endpoints with the raw JSON codec and
// discards callback failures.
func defaultOpts() bridgeOpts {
	return bridgeOpts{
		mode:     Multiplexed,
		policy:   DefaultHandlerPolicy,
		codec:    json.New(),
		failures: DiscardFailures,
		logger:   zap.NewNop(),
	}
}

// WithMode selects the registry mode.
func WithMode(mode RegistryMode) Option {
	return func(opts *bridgeOpts) {
		opts.mode = mode
	}
}

// WithHandlerPolicy sets how singleton endpoints treat repeated handler
// registrations. It has no effect in multiplexed mode.
func WithHandlerPolicy(policy HandlerPolicy) Option {
	return func(opts *bridgeOpts) {
		opts.policy = policy
	}
}

// WithFailurePolicy replaces DiscardFailures.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(opts *bridgeOpts) {
		if policy != nil {
			opts.failures = policy
		}
	}
}

// WithLogger sets the logger for lifecycle and control-plane events.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *bridgeOpts) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// withCodec overrides the endpoint codec. The bridge always opens with raw
// JSON; tests use this to observe the codec handed to the transport.
func withCodec(codec Codec) Option {
	return func(opts *bridgeOpts) {
		opts.codec = codec
	}
}
