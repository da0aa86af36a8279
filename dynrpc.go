// Package dynrpc wires the discovery resolver, channel cache, client
// factory, registrar, lifecycle manager, readiness gate, metadata collector
// and metrics sink into one runtime object, in the deterministic start/stop
// order the component contracts require: C5 (lifecycle) starts last, after
// everything it depends on is already live, and shuts down first.
package dynrpc

import (
	"context"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"google.golang.org/grpc"

	"github.com/source-build/go-dynrpc/channel"
	"github.com/source-build/go-dynrpc/client"
	"github.com/source-build/go-dynrpc/discovery"
	"github.com/source-build/go-dynrpc/internal/config"
	"github.com/source-build/go-dynrpc/lifecycle"
	"github.com/source-build/go-dynrpc/metadata"
	"github.com/source-build/go-dynrpc/metrics"
	"github.com/source-build/go-dynrpc/readiness"
	"github.com/source-build/go-dynrpc/registrar"
)

// Runtime bundles every component this module builds behind one value: the
// discovery.Resolver and channel.Manager that back Factory, the Registrar
// implementation selected by registration.mode, the lifecycle.Manager
// driving it, and the readiness.Gate observing that lifecycle.
type Runtime struct {
	Factory   *client.Factory
	Lifecycle *lifecycle.Manager
	Readiness *readiness.Gate
	Metrics   metrics.Sink

	disc *discovery.Resolver
}

// Options lets a caller override the pieces New does not derive from cfg
// alone: an existing metrics backend, an already-constructed Consul client
// for the direct-mode registrar, the inputs feeding metadata.Collector
// (overrides, dev isolation, production flag, the gRPC server), and the
// load-balancing policy for cached channels.
type Options struct {
	Metrics           metrics.Sink
	ConsulClient      *consulapi.Client
	MetadataOverrides metadata.Overrides
	DevIsolation      bool
	Production        bool
	GRPCServer        *grpc.Server
	LBPolicy          channel.Policy
}

// New assembles a Runtime from cfg but does not start registration. When
// registration is enabled it collects the registration record (C7) here, from
// the services already registered on opts.GRPCServer, so register them before
// calling New; call Start once the server is already serving.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}

	disc := discovery.NewResolver()
	disc.RegisterBackend(discovery.NewStaticBackend())
	disc.RegisterBackend(discovery.NewDirectBackend())

	consulClient := opts.ConsulClient
	if consulClient == nil {
		var err error
		consulClient, err = consulapi.NewClient(&consulapi.Config{
			Address: fmt.Sprintf("%s:%d", cfg.DynamicGRPC.Consul.Host, cfg.DynamicGRPC.Consul.Port),
		})
		if err != nil {
			return nil, fmt.Errorf("dynrpc: consul client: %w", err)
		}
	}
	consulBackend, err := discovery.NewConsulBackend(discovery.ConsulConfig{
		Address:       fmt.Sprintf("%s:%d", cfg.DynamicGRPC.Consul.Host, cfg.DynamicGRPC.Consul.Port),
		RefreshPeriod: cfg.DynamicGRPC.Consul.RefreshPeriod,
		UseHealthOnly: cfg.DynamicGRPC.Consul.UseHealthChecks,
	})
	if err != nil {
		return nil, fmt.Errorf("dynrpc: consul backend: %w", err)
	}
	disc.RegisterBackend(consulBackend)

	dial, _, err := channel.NewChannelDialer(disc, cfg.DynamicGRPC.Consul.RefreshPeriod, channel.TLSPolicy{
		Enabled:        cfg.DynamicGRPC.TLS.Enabled,
		TrustAll:       cfg.DynamicGRPC.TLS.TrustAll,
		TrustCertFiles: cfg.DynamicGRPC.TLS.TrustCertFiles,
		KeyFile:        cfg.DynamicGRPC.TLS.KeyFile,
		CertFile:       cfg.DynamicGRPC.TLS.CertFile,
		VerifyHostname: cfg.DynamicGRPC.TLS.VerifyHostname,
	}, channel.AuthPolicy{
		Enabled:      cfg.DynamicGRPC.Auth.Enabled,
		HeaderName:   cfg.DynamicGRPC.Auth.HeaderName,
		SchemePrefix: cfg.DynamicGRPC.Auth.SchemePrefix,
	}, opts.LBPolicy)
	if err != nil {
		return nil, fmt.Errorf("dynrpc: build dial options: %w", err)
	}

	cache := channel.NewManager(channel.CacheConfig{
		IdleTTL:         cfg.DynamicGRPC.Channel.IdleTTL,
		MaxSize:         cfg.DynamicGRPC.Channel.MaxSize,
		ShutdownTimeout: cfg.DynamicGRPC.Channel.ShutdownTimeout,
	}, dial, opts.Metrics)

	factory := client.NewFactory(disc, cache, client.WithMetrics(opts.Metrics))

	rt := &Runtime{Factory: factory, Metrics: opts.Metrics, disc: disc}

	if !cfg.Registration.Enabled {
		rt.Lifecycle = lifecycle.NewManager(lifecycle.Config{Enabled: false}, nil, registrar.RegistrationRecord{}, factory, "")
		rt.Readiness = readiness.NewGate(rt.Lifecycle)
		return rt, nil
	}

	collector := metadata.New(cfg.Registration, cfg.Server, opts.MetadataOverrides, opts.DevIsolation, opts.Production)
	record, err := collector.Collect(context.Background(), opts.GRPCServer)
	if err != nil {
		return nil, fmt.Errorf("dynrpc: collect registration metadata: %w", err)
	}

	var reg registrar.Registrar
	var resetName string
	switch cfg.Registration.Mode {
	case "grpc":
		svc := cfg.Registration.RegistrationService
		name := svc.DiscoveryName
		if name == "" {
			name = "registry-service"
		}
		// Open Question 1: a direct host:port always wins over the configured
		// discovery name when both are set.
		if svc.Host != "" && svc.Port != 0 {
			disc.SetDirectOverride(name, fmt.Sprintf("%s:%d", svc.Host, svc.Port))
		}
		if err := disc.EnsureDefined(name); err != nil {
			return nil, fmt.Errorf("dynrpc: define registration service: %w", err)
		}
		reg = registrar.NewGRPCRegistrar(factory, name)
		resetName = name
	default:
		reg = registrar.NewConsulRegistrar(consulClient, cfg.Registration.RequiredTimeout)
	}

	lcCfg := lifecycle.Config{
		Enabled:         true,
		Required:        cfg.Registration.Required,
		RequiredTimeout: cfg.Registration.RequiredTimeout,
		Retry: lifecycle.RetryConfig{
			MaxAttempts:  cfg.Registration.Retry.MaxAttempts,
			InitialDelay: cfg.Registration.Retry.InitialDelay,
			MaxDelay:     cfg.Registration.Retry.MaxDelay,
			Multiplier:   cfg.Registration.Retry.Multiplier,
		},
		ReReg: lifecycle.ReRegConfig{
			Enabled:  cfg.Registration.ReRegistration.Enabled,
			Interval: cfg.Registration.ReRegistration.Interval,
		},
		DiscoveryName:     cfg.Registration.RegistrationService.DiscoveryName,
		DiscoveryEndpoint: fmt.Sprintf("%s:%d", cfg.Registration.RegistrationService.Host, cfg.Registration.RegistrationService.Port),
	}
	rt.Lifecycle = lifecycle.NewManager(lcCfg, reg, record, factory, resetName)
	rt.Readiness = readiness.NewGate(rt.Lifecycle)
	return rt, nil
}

// Start begins registration. Call once, after the caller's own server is
// already accepting connections.
func (r *Runtime) Start(ctx context.Context) {
	r.Lifecycle.Start(ctx)
}

// Shutdown stops registration (deregistering best-effort) and then drains
// the channel cache, in that order: a channel the registrar still needs to
// deregister must not be evicted out from under it first.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.Lifecycle.Shutdown(ctx)
	r.Factory.Shutdown()
}

// EnsureService is a pass-through convenience so callers can bind a logical
// name to a discovery backend without reaching into Runtime.Factory.
func (r *Runtime) EnsureService(name string, kind discovery.BackendKind, params discovery.BackendParams) error {
	return r.Factory.EnsureService(name, kind, params)
}
