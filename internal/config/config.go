// Package config loads the configuration keys this module recognizes through
// viper, the way the teacher's viper.go wraps spf13/viper, but returns
// strongly-typed structs instead of stringly-typed lookups scattered through
// every component.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Load reads a config file (any format viper supports) plus environment
// overrides (prefix DYNRPC_, nested keys joined by "_") and binds CLI flags
// when useFlags is true, mirroring NewReadInConfig's optional pflag binding.
func Load(file string, useFlags bool) (*Config, error) {
	v := viper.New()

	if useFlags {
		pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
		pflag.Parse()
		if err := v.BindPFlags(pflag.CommandLine); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("dynrpc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registration.enabled", false)
	v.SetDefault("registration.mode", "direct")
	v.SetDefault("registration.required", false)
	v.SetDefault("registration.required-timeout", "30s")
	v.SetDefault("registration.type", "service")
	v.SetDefault("registration.version", "1.0.0")
	v.SetDefault("registration.tls-enabled", false)

	v.SetDefault("registration.retry.max-attempts", 0)
	v.SetDefault("registration.retry.initial-delay", "1s")
	v.SetDefault("registration.retry.max-delay", "30s")
	v.SetDefault("registration.retry.multiplier", 2.0)

	v.SetDefault("registration.re-registration.enabled", true)
	v.SetDefault("registration.re-registration.interval", "5s")

	v.SetDefault("registration.http.enabled", false)
	v.SetDefault("registration.http.scheme", "http")
	v.SetDefault("registration.http.base-path", "/")
	v.SetDefault("registration.http.health-path", "/q/health")

	v.SetDefault("registration.registration-service.timeout", "10s")

	v.SetDefault("dynamic-grpc.channel.idle-ttl", "10m")
	v.SetDefault("dynamic-grpc.channel.max-size", 128)
	v.SetDefault("dynamic-grpc.channel.shutdown-timeout", "5s")

	v.SetDefault("dynamic-grpc.consul.host", "127.0.0.1")
	v.SetDefault("dynamic-grpc.consul.port", 8500)
	v.SetDefault("dynamic-grpc.consul.refresh-period", "10s")
	v.SetDefault("dynamic-grpc.consul.use-health-checks", true)

	v.SetDefault("dynamic-grpc.auth.header-name", "Authorization")
	v.SetDefault("dynamic-grpc.auth.scheme-prefix", "Bearer")

	v.SetDefault("server.host-mode", "auto")
	v.SetDefault("server.class", "core")
}

// Config is the root of every key recognized under the "registration.*" and
// "dynamic-grpc.*" prefixes plus the subset of "server.*" this module consumes.
type Config struct {
	Registration RegistrationConfig `mapstructure:"registration"`
	DynamicGRPC  DynamicGRPCConfig  `mapstructure:"dynamic-grpc"`
	Server       ServerConfig       `mapstructure:"server"`
}

type RegistrationConfig struct {
	Enabled             bool            `mapstructure:"enabled"`
	Mode                string          `mapstructure:"mode"` // "direct" | "grpc"
	Required            bool            `mapstructure:"required"`
	RequiredTimeout     time.Duration   `mapstructure:"required-timeout"`
	ServiceName         string          `mapstructure:"service-name"`
	Version             string          `mapstructure:"version"`
	Type                string          `mapstructure:"type"`
	AdvertisedHost      string          `mapstructure:"advertised-host"`
	AdvertisedPort      int             `mapstructure:"advertised-port"`
	InternalHost        string          `mapstructure:"internal-host"`
	InternalPort        int             `mapstructure:"internal-port"`
	TLSEnabled          bool            `mapstructure:"tls-enabled"`
	Tags                []string        `mapstructure:"tags"`
	Capabilities        []string        `mapstructure:"capabilities"`
	Retry               RetryConfig     `mapstructure:"retry"`
	ReRegistration      ReRegConfig     `mapstructure:"re-registration"`
	HTTP                HTTPRegConfig   `mapstructure:"http"`
	RegistrationService RegistryService `mapstructure:"registration-service"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max-attempts"`
	InitialDelay time.Duration `mapstructure:"initial-delay"`
	MaxDelay     time.Duration `mapstructure:"max-delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type ReRegConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type HTTPRegConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Scheme           string `mapstructure:"scheme"`
	AdvertisedHost   string `mapstructure:"advertised-host"`
	AdvertisedPort   int    `mapstructure:"advertised-port"`
	BasePath         string `mapstructure:"base-path"`
	HealthPath       string `mapstructure:"health-path"`
	HealthURL        string `mapstructure:"health-url"`
	TLSEnabled       bool   `mapstructure:"tls-enabled"`
	Schema           string `mapstructure:"schema"`
	SchemaVersion    string `mapstructure:"schema-version"`
	SchemaArtifactID string `mapstructure:"schema-artifact-id"`
}

type RegistryService struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DiscoveryName string        `mapstructure:"discovery-name"`
	TLSEnabled    bool          `mapstructure:"tls-enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type DynamicGRPCConfig struct {
	Channel ChannelConfig `mapstructure:"channel"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Consul  ConsulConfig  `mapstructure:"consul"`
}

type ChannelConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle-ttl"`
	MaxSize         int           `mapstructure:"max-size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

type TLSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	TrustAll       bool     `mapstructure:"trust-all"`
	TrustCertFiles []string `mapstructure:"trust-certs"`
	KeyFile        string   `mapstructure:"key-file"`
	CertFile       string   `mapstructure:"cert-file"`
	VerifyHostname bool     `mapstructure:"verify-hostname"`
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	HeaderName   string `mapstructure:"header-name"`
	SchemePrefix string `mapstructure:"scheme-prefix"`
}

type ConsulConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RefreshPeriod   time.Duration `mapstructure:"refresh-period"`
	UseHealthChecks bool          `mapstructure:"use-health-checks"`
}

type ServerConfig struct {
	Class           string   `mapstructure:"class"` // core|module|connector|engine
	Capabilities    []string `mapstructure:"capabilities"`
	HostMode        string   `mapstructure:"host-mode"` // auto|production|custom
	HTTP2WindowSize int      `mapstructure:"http2.connection-window-size"`
}
