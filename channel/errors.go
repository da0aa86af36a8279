package channel

import (
	"errors"

	"github.com/source-build/go-dynrpc/discovery"
)

// ErrCacheClosed is returned by Get once Shutdown has completed.
var ErrCacheClosed = errors.New("channel: cache is shut down")

// ErrUnavailable is returned when a name resolves to zero healthy instances;
// spec §4.2 step 1 treats this distinctly from a discovery backend error.
var ErrUnavailable = errors.New("channel: no healthy instances for service")

// ErrChannelCreateFailure wraps a dial failure with the name that triggered it.
type ErrChannelCreateFailure struct {
	Name string
	Err  error
}

func (e *ErrChannelCreateFailure) Error() string {
	return "channel: create failed for " + e.Name + ": " + e.Err.Error()
}

func (e *ErrChannelCreateFailure) Unwrap() error { return e.Err }

// isPreDialError reports whether derr originated from the synchronous
// resolve step before any transport/TLS work began, so Manager.Get can pass
// it through unwrapped instead of folding it into ErrChannelCreateFailure.
func isPreDialError(derr error) bool {
	if errors.Is(derr, ErrUnavailable) || errors.Is(derr, discovery.ErrServiceUnknown) {
		return true
	}
	var df *discovery.ErrDiscoveryFailure
	return errors.As(derr, &df)
}
