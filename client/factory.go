// Package client is the public façade an application uses to obtain a gRPC
// channel for a logical service name, without touching discovery or channel
// caching directly.
package client

import (
	"context"
	"errors"

	sentinel "github.com/alibaba/sentinel-golang/api"
	"google.golang.org/grpc"

	"github.com/source-build/go-dynrpc/channel"
	"github.com/source-build/go-dynrpc/discovery"
	"github.com/source-build/go-dynrpc/metrics"
)

// Factory wraps a discovery.Resolver and a channel.Manager behind one Get
// call, optionally guarded by a sentinel-golang circuit breaker rule.
// Grounded on grpc.go's GrpcDialContext, which wraps the dial attempt in a
// sentinel.Entry/Exit pair only when a rule name is configured (config.rule),
// leaving the breaker fully opt-in rather than mandatory.
type Factory struct {
	disc        *discovery.Resolver
	cache       *channel.Manager
	breakerRule string
	metrics     metrics.Sink
}

type Option func(*Factory)

// WithBreakerRule names a sentinel-golang rule, already loaded via
// circuitbreaker.LoadRules, to guard every Get call this factory makes.
func WithBreakerRule(name string) Option {
	return func(f *Factory) { f.breakerRule = name }
}

// WithMetrics records every Factory operation against sink. Defaults to
// metrics.Noop() when omitted.
func WithMetrics(sink metrics.Sink) Option {
	return func(f *Factory) { f.metrics = sink }
}

func NewFactory(disc *discovery.Resolver, cache *channel.Manager, opts ...Option) *Factory {
	f := &Factory{disc: disc, cache: cache}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = metrics.Noop()
	}
	f.metrics.ObserveClientCreated("")
	return f
}

// EnsureService registers name's backend selection with the resolver; it
// must be called once (directly, or by config/registrar wiring) before Get
// is ever called for that name.
func (f *Factory) EnsureService(name string, kind discovery.BackendKind, params discovery.BackendParams) error {
	f.disc.SetBackendConfig(name, kind, params)
	return f.disc.EnsureDefined(name)
}

// Get returns the shared channel for name. It is the getChannel operation of
// spec §4.3.
func (f *Factory) Get(ctx context.Context, name string) (*grpc.ClientConn, error) {
	defer metrics.Time(f.metrics, "getChannel")()

	if f.breakerRule == "" {
		return f.get(ctx, name)
	}

	e, blockErr := sentinel.Entry(f.breakerRule)
	if blockErr != nil {
		f.metrics.ObserveException("Unavailable", name, "getChannel")
		return nil, &ErrUnavailable{Name: name, Err: blockErr}
	}
	conn, err := f.get(ctx, name)
	if err != nil {
		sentinel.TraceError(e, err)
	}
	e.Exit()
	return conn, err
}

func (f *Factory) get(ctx context.Context, name string) (*grpc.ClientConn, error) {
	conn, err := f.cache.Get(ctx, name)
	if err == nil {
		f.metrics.ObserveDiscoveryAttempt(name, "success")
		f.metrics.ObserveActiveChannels(f.cache.Len())
		return conn, nil
	}

	f.metrics.ObserveDiscoveryAttempt(name, "failure")

	var createErr *channel.ErrChannelCreateFailure
	var discErr *discovery.ErrDiscoveryFailure
	switch {
	case errors.Is(err, channel.ErrCacheClosed):
		f.metrics.ObserveException("Cancelled", name, "getChannel")
		return nil, ErrCancelled
	case errors.Is(err, discovery.ErrServiceUnknown):
		f.metrics.ObserveException("ServiceUnknown", name, "getChannel")
		return nil, &ErrServiceUnknown{Name: name}
	case errors.Is(err, channel.ErrUnavailable):
		f.metrics.ObserveException("Unavailable", name, "getChannel")
		return nil, &ErrUnavailable{Name: name, Err: err}
	case errors.As(err, &discErr):
		f.metrics.ObserveException("DiscoveryFailure", name, "getChannel")
		return nil, &ErrDiscoveryFailure{Name: name, Err: discErr.Err}
	case errors.As(err, &createErr):
		f.metrics.ObserveException("ChannelCreateFailure", name, "getChannel")
		return nil, &ErrChannelCreateFailure{Name: name, Err: createErr.Err}
	default:
		f.metrics.ObserveException("DiscoveryFailure", name, "getChannel")
		return nil, err
	}
}

// GetClient is the getClient operation of spec §4.3: it resolves name's
// channel then applies stubFactory to it, so callers never construct a
// protoc-generated client against a raw *grpc.ClientConn by hand.
func (f *Factory) GetClient(ctx context.Context, name string, stubFactory func(*grpc.ClientConn) interface{}) (interface{}, error) {
	conn, err := f.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return stubFactory(conn), nil
}

// Evict drops name's cached channel, if any, forcing the next Get to redial.
func (f *Factory) Evict(name string) {
	f.cache.Evict(name)
}

// ActiveCount returns the number of channels currently cached.
func (f *Factory) ActiveCount() int {
	return f.cache.Len()
}

// Stats is the structured snapshot behind the stats() operation of spec
// §4.3.
type Stats struct {
	ActiveChannels int
	BreakerRule    string
}

func (f *Factory) Stats() Stats {
	return Stats{
		ActiveChannels: f.cache.Len(),
		BreakerRule:    f.breakerRule,
	}
}

// Shutdown closes every cached channel. It does not affect the resolver.
func (f *Factory) Shutdown() {
	f.cache.Shutdown()
}
