package discovery

import "errors"

// ErrServiceUnknown means the logical name was never defined via EnsureDefined.
var ErrServiceUnknown = errors.New("discovery: service unknown")

// ErrInvalidAddress means a direct "host:port" override failed validation:
// empty host, or port outside 1..65535.
var ErrInvalidAddress = errors.New("discovery: invalid address")

// ErrDiscoveryFailure wraps a backend I/O error distinct from an empty,
// healthy-but-unavailable result set.
type ErrDiscoveryFailure struct {
	Name string
	Err  error
}

func (e *ErrDiscoveryFailure) Error() string {
	return "discovery: backend failure resolving " + e.Name + ": " + e.Err.Error()
}

func (e *ErrDiscoveryFailure) Unwrap() error { return e.Err }
