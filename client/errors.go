package client

import "errors"

// ErrInvalidConfig is returned when a Factory is constructed or a service is
// registered with a configuration that fails validation before any network
// call is attempted.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return "client: invalid config for " + e.Field + ": " + e.Reason
}

// ErrServiceUnknown mirrors discovery.ErrServiceUnknown, surfaced under the
// client package's own taxonomy so callers need not import discovery just to
// check an error class.
type ErrServiceUnknown struct {
	Name string
}

func (e *ErrServiceUnknown) Error() string {
	return "client: service " + e.Name + " was never defined"
}

// ErrDiscoveryFailure wraps a backend resolution failure for name.
type ErrDiscoveryFailure struct {
	Name string
	Err  error
}

func (e *ErrDiscoveryFailure) Error() string {
	return "client: discovery failed for " + e.Name + ": " + e.Err.Error()
}

func (e *ErrDiscoveryFailure) Unwrap() error { return e.Err }

// ErrChannelCreateFailure wraps a channel dial failure for name.
type ErrChannelCreateFailure struct {
	Name string
	Err  error
}

func (e *ErrChannelCreateFailure) Error() string {
	return "client: channel create failed for " + e.Name + ": " + e.Err.Error()
}

func (e *ErrChannelCreateFailure) Unwrap() error { return e.Err }

// ErrUnavailable is returned when a configured circuit breaker rule is open,
// or when name resolves to zero healthy instances.
type ErrUnavailable struct {
	Name string
	Err  error
}

func (e *ErrUnavailable) Error() string {
	return "client: " + e.Name + " unavailable: " + e.Err.Error()
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// ErrCancelled is returned when Get is called after the owning cache has
// been shut down.
var ErrCancelled = errors.New("client: factory shut down")
