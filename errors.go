package cfxbridge

import "errors"

// Control-plane errors. Every error returned by the Bridge wraps exactly one
// of these so callers can branch with errors.Is.
var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrDuplicateHandle          = errors.New("endpoint handle already open")
	ErrUnknownHandle            = errors.New("no endpoint is open for handle")
	ErrEndpointNotOpen          = errors.New("endpoint is not open")
	ErrChannelValidationFailed  = errors.New("channel test failed")
	ErrDeserializationFailed    = errors.New("could not deserialize message")
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for endpoint")
	ErrNoHandlerRegistered      = errors.New("no handler registered for endpoint")
	ErrTransportFailure         = errors.New("transport failure")
)
