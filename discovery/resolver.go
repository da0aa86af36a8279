package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/source-build/go-dynrpc/internal/dlog"
	"go.uber.org/zap"
)

// Resolver is the C1 discovery resolver: a table of named Backends plus the
// selection rule that picks which backend a newly-seen logical name binds to.
// It never caches instance lists itself — the channel cache does that.
type Resolver struct {
	mu       sync.RWMutex
	services map[string]*LogicalService
	backends map[BackendKind]Backend

	// directOverrides holds explicit "host:port" bindings for a name, checked
	// first in EnsureDefined's selection order.
	directOverrides map[string]string

	// perNameParams holds backend-specific discovery keys configured ahead of
	// time for a name, checked second.
	perNameBackend map[string]BackendKind
	perNameParams  map[string]BackendParams

	defaultConsulApplication func(name string) string
}

func NewResolver() *Resolver {
	return &Resolver{
		services:        make(map[string]*LogicalService),
		backends:        make(map[BackendKind]Backend),
		directOverrides: make(map[string]string),
		perNameBackend:  make(map[string]BackendKind),
		perNameParams:   make(map[string]BackendParams),
	}
}

// RegisterBackend adds a backend implementation to the table. Call once per
// kind before any EnsureDefined that needs it.
func (r *Resolver) RegisterBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Kind()] = b
}

// SetDirectOverride pre-registers a direct host:port for name, taking priority
// over any configured backend when EnsureDefined runs.
func (r *Resolver) SetDirectOverride(name, hostPort string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directOverrides[name] = hostPort
}

// SetBackendConfig pre-registers backend-specific discovery keys for name,
// used when no direct override is present.
func (r *Resolver) SetBackendConfig(name string, kind BackendKind, params BackendParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perNameBackend[name] = kind
	r.perNameParams[name] = params
}

// EnsureDefined implements the selection order from the component contract:
//  1. direct host:port override for name
//  2. configured backend-specific keys for name
//  3. Consul fallback with application=name
//
// Redefinition of an already-defined name is idempotent: the existing backend
// params win and this call is a no-op.
func (r *Resolver) EnsureDefined(name string) error {
	r.mu.Lock()
	if _, ok := r.services[name]; ok {
		r.mu.Unlock()
		return nil
	}

	var kind BackendKind
	var params BackendParams

	switch {
	case r.directOverrides[name] != "":
		host, port, err := splitValidateHostPort(r.directOverrides[name])
		if err != nil {
			r.mu.Unlock()
			return err
		}
		kind = BackendStatic
		params = BackendParams{Addresses: []string{net.JoinHostPort(host, strconv.Itoa(port))}}
	case r.perNameBackend[name] != "":
		kind = r.perNameBackend[name]
		params = r.perNameParams[name]
	default:
		kind = BackendConsul
		app := name
		if r.defaultConsulApplication != nil {
			app = r.defaultConsulApplication(name)
		}
		params = BackendParams{ConsulApplication: app}
	}

	backend, ok := r.backends[kind]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("discovery: no backend registered for kind %q", kind)
	}

	r.services[name] = &LogicalService{Name: name, Backend: kind, Params: params}
	r.mu.Unlock()

	return backend.EnsureDefined(name, params)
}

// Resolve returns the current instance list for name. Returns ErrServiceUnknown
// if EnsureDefined was never called for it.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]ServiceInstance, error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	var backend Backend
	if ok {
		backend = r.backends[svc.Backend]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, ErrServiceUnknown
	}

	instances, err := backend.Resolve(ctx, name)
	if err != nil {
		dlog.Named("discovery").Warn("resolve failed", zap.Error(err), zap.String("name", name))
		return nil, &ErrDiscoveryFailure{Name: name, Err: err}
	}
	return instances, nil
}

func splitValidateHostPort(hostPort string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil || host == "" {
		return "", 0, ErrInvalidAddress
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, ErrInvalidAddress
	}
	return host, port, nil
}
