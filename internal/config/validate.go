package config

import (
	"fmt"
	"net"

	"github.com/RobertWHurst/cfxbridge"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "transport.kind"
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() []error {
	var errs []error

	if _, err := cfxbridge.ParseRegistryMode(c.Bridge.Mode); err != nil {
		errs = append(errs, ValidationError{
			Path:    "bridge.mode",
			Message: fmt.Sprintf("invalid value %q", c.Bridge.Mode),
			Hint:    "allowed values: multiplexed, singleton",
		})
	}
	if _, err := cfxbridge.ParseHandlerPolicy(c.Bridge.HandlerPolicy); err != nil {
		errs = append(errs, ValidationError{
			Path:    "bridge.handler_policy",
			Message: fmt.Sprintf("invalid value %q", c.Bridge.HandlerPolicy),
			Hint:    "allowed values: default, exclusive, accumulate",
		})
	}

	switch c.Transport.Kind {
	case TransportLoopback, TransportNATS, TransportAMQP:
	default:
		errs = append(errs, ValidationError{
			Path:    "transport.kind",
			Message: fmt.Sprintf("invalid value %q", c.Transport.Kind),
			Hint:    "allowed values: loopback, nats, amqp",
		})
	}
	if c.Transport.DialTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "transport.dial_timeout",
			Message: "must be positive",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", c.Logging.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", c.Logging.Format),
			Hint:    "allowed values: json, console",
		})
	}

	if c.Host.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Host.Listen); err != nil {
			errs = append(errs, ValidationError{
				Path:    "host.listen",
				Message: fmt.Sprintf("invalid address %q: %v", c.Host.Listen, err),
				Hint:    "expected host:port, e.g. 127.0.0.1:7070",
			})
		}
	}
	if c.Host.Listen == "" && !c.Host.Stdio {
		errs = append(errs, ValidationError{
			Path:    "host",
			Message: "no front end enabled",
			Hint:    "set host.listen or host.stdio",
		})
	}

	return errs
}
