// Package metadata assembles a registrar.RegistrationRecord (C7) from local
// process configuration and the running gRPC server's advertised service
// descriptors. Grounded on net.go's GetOutBoundIP (advertised-host fallback)
// and registration.go's MID/UseIsolate concept (dev-environment isolation),
// reworked here onto machineid instead of a hand-rolled MD5 composition.
package metadata

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/shirou/gopsutil/v3/host"
	"google.golang.org/grpc"

	"github.com/source-build/go-dynrpc/internal/config"
	"github.com/source-build/go-dynrpc/internal/dlog"
	"github.com/source-build/go-dynrpc/registrar"
)

const (
	defaultServiceName = "unknown-service"
	defaultVersion     = "1.0.0"
	dockerHostLinux    = "172.17.0.1"
	dockerHostDarwin   = "host.docker.internal"
)

// Overrides carries the explicit, caller-supplied values that always win
// over application-level or environment-detected defaults: "override >
// application name/version > hardcoded default" in spec §4.7 terms.
type Overrides struct {
	ApplicationName    string
	ApplicationVersion string
	GRPCPort           int
	HTTPPort           int
}

// Collector derives a RegistrationRecord from process configuration plus,
// optionally, a stable per-host id folded in for development-mode isolation.
type Collector struct {
	cfg          config.RegistrationConfig
	httpCfg      config.HTTPRegConfig
	server       config.ServerConfig
	overrides    Overrides
	devIsolation bool
	production   bool
}

func New(cfg config.RegistrationConfig, server config.ServerConfig, overrides Overrides, devIsolation, production bool) *Collector {
	return &Collector{
		cfg:          cfg,
		httpCfg:      cfg.HTTP,
		server:       server,
		overrides:    overrides,
		devIsolation: devIsolation,
		production:   production,
	}
}

// Collect builds the full RegistrationRecord, reading registered service
// names off grpcServer (nil is accepted — GRPCServices is empty in that
// case, e.g. for an HTTP-only registration).
func (c *Collector) Collect(ctx context.Context, grpcServer *grpc.Server) (registrar.RegistrationRecord, error) {
	name := c.serviceName()
	advHost, err := c.advertisedHost(ctx)
	if err != nil {
		return registrar.RegistrationRecord{}, fmt.Errorf("metadata: resolve advertised host: %w", err)
	}

	rec := registrar.RegistrationRecord{
		Name:           name,
		Type:           c.recordType(),
		Version:        c.version(),
		AdvertisedHost: advHost,
		AdvertisedPort: c.advertisedPort(),
		InternalHost:   c.cfg.InternalHost,
		InternalPort:   c.cfg.InternalPort,
		TLSEnabled:     c.cfg.TLSEnabled,
		Tags:           append([]string(nil), c.cfg.Tags...),
		Capabilities:   append([]string(nil), c.server.Capabilities...),
		Metadata: map[string]string{
			"http.port":      fmt.Sprintf("%d", c.overrides.HTTPPort),
			"grpc.port":      fmt.Sprintf("%d", c.overrides.GRPCPort),
			"runtime.go":     runtime.Version(),
			"runtime.goos":   runtime.GOOS,
			"runtime.goarch": runtime.GOARCH,
		},
	}

	if grpcServer != nil {
		rec.GRPCServices = registrar.FilterReservedServices(serviceNames(grpcServer))
	}

	if c.httpCfg.Enabled {
		ep, warn := c.httpEndpoint(advHost)
		if warn != "" {
			dlog.Named("metadata").Warn(warn)
		}
		rec.HTTPEndpoints = []registrar.HTTPEndpoint{ep}
	}

	rec.HTTPSchema = c.httpCfg.Schema
	rec.HTTPSchemaVersion = c.httpCfg.SchemaVersion
	rec.HTTPSchemaArtifactID = c.httpCfg.SchemaArtifactID

	if c.devIsolation && !c.production {
		id, err := machineid.ProtectedID("go-dynrpc")
		if err == nil {
			rec.Metadata["dev.isolation-id"] = id
		}
	}

	return rec, nil
}

func (c *Collector) serviceName() string {
	if c.cfg.ServiceName != "" {
		return c.cfg.ServiceName
	}
	if c.overrides.ApplicationName != "" {
		return c.overrides.ApplicationName
	}
	return defaultServiceName
}

func (c *Collector) version() string {
	if c.cfg.Version != "" {
		return c.cfg.Version
	}
	if c.overrides.ApplicationVersion != "" {
		return c.overrides.ApplicationVersion
	}
	return defaultVersion
}

func (c *Collector) recordType() string {
	if c.cfg.Type != "" {
		return c.cfg.Type
	}
	return "service"
}

func (c *Collector) advertisedPort() int {
	if c.cfg.AdvertisedPort != 0 {
		return c.cfg.AdvertisedPort
	}
	if c.overrides.GRPCPort != 0 {
		return c.overrides.GRPCPort
	}
	return c.overrides.HTTPPort
}

// advertisedHost implements spec §4.7: explicit override wins; otherwise the
// host-mode default — the machine hostname in production, else an
// OS-detected docker-host alias so a containerized dev service is reachable
// from its host.
func (c *Collector) advertisedHost(ctx context.Context) (string, error) {
	if c.cfg.AdvertisedHost != "" {
		return c.cfg.AdvertisedHost, nil
	}

	switch c.server.HostMode {
	case "production":
		return hostname()
	case "custom":
		return "", fmt.Errorf("host-mode=custom requires registration.advertised-host to be set")
	default: // "auto" or unset
		if c.production {
			return hostname()
		}
		return dockerHostAlias(ctx)
	}
}

func hostname() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", err
	}
	return info.Hostname, nil
}

func dockerHostAlias(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		// Fall back to the Linux alias: gopsutil failures are rare and this
		// keeps development mode usable without a working host probe.
		return dockerHostLinux, nil
	}
	switch info.OS {
	case "darwin", "windows":
		return dockerHostDarwin, nil
	default:
		return dockerHostLinux, nil
	}
}

// httpEndpoint computes the single advertised HTTP surface per spec §4.4's
// base/health path rules, reusing registrar.JoinHealthPath. An absolute
// health-url override replaces scheme/host/port/path atomically rather than
// being joined.
func (c *Collector) httpEndpoint(advertisedHost string) (registrar.HTTPEndpoint, string) {
	h := c.httpCfg.AdvertisedHost
	if h == "" {
		h = advertisedHost
	}
	port := c.httpCfg.AdvertisedPort
	if port == 0 {
		port = c.overrides.HTTPPort
	}
	scheme := c.httpCfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	basePath := c.httpCfg.BasePath
	if basePath == "" {
		basePath = "/"
	}
	healthPath := c.httpCfg.HealthPath
	if healthPath == "" {
		healthPath = "/q/health"
	}

	// An absolute registration.http.health-url overrides scheme/host/port/
	// path atomically; anything that fails to parse as a full URL falls
	// back to being treated as a healthPath override (spec §4.7's open
	// question: parse full URL first, then fall back to path).
	if c.httpCfg.HealthURL != "" {
		if urlScheme, urlHost, urlPort, urlPath, ok := registrar.ResolveHealthURL(c.httpCfg.HealthURL); ok {
			return registrar.HTTPEndpoint{
				Scheme:     urlScheme,
				Host:       urlHost,
				Port:       urlPort,
				BasePath:   "/",
				HealthPath: urlPath,
				TLSEnabled: urlScheme == "https",
			}, ""
		}
		healthPath = c.httpCfg.HealthURL
	}

	ep := registrar.HTTPEndpoint{
		Scheme:     scheme,
		Host:       h,
		Port:       port,
		BasePath:   basePath,
		HealthPath: registrar.JoinHealthPath(basePath, healthPath),
		TLSEnabled: c.httpCfg.TLSEnabled,
	}

	var warning string
	if basePath != "/" && healthPath != "/q/health" && !strings.Contains(healthPath, "://") && !strings.HasPrefix(healthPath, basePath) {
		warning = fmt.Sprintf("metadata: health-path %q does not start with non-default base-path %q", healthPath, basePath)
	}
	return ep, warning
}

func serviceNames(s *grpc.Server) []string {
	info := s.GetServiceInfo()
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	return names
}
