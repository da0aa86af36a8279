// Package registrar builds registration records and drives them into a
// discovery backend (C4): direct Consul registration, or streamed through a
// central registry service over a dynamic gRPC channel.
package registrar

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// recordValidator is shared across every RegistrationRecord.Validate call;
// validator.Validate caches its struct-tag parsing per type, so a single
// package-level instance is the intended usage.
var recordValidator = validator.New()

// RegistrationRecord is the full registration payload assembled by
// metadata.Collector and consumed by a Registrar implementation.
type RegistrationRecord struct {
	Name           string `validate:"required"`
	Type           string // "service" | "module"
	Version        string
	AdvertisedHost string `validate:"required"`
	AdvertisedPort int    `validate:"required,min=1,max=65535"`
	InternalHost   string
	InternalPort   int
	TLSEnabled     bool
	Tags           []string
	Capabilities   []string
	Metadata       map[string]string
	HTTPEndpoints  []HTTPEndpoint
	GRPCServices   []string

	HTTPSchema           string
	HTTPSchemaVersion    string
	HTTPSchemaArtifactID string
}

// HTTPEndpoint is one advertised HTTP surface.
type HTTPEndpoint struct {
	Scheme     string
	Host       string
	Port       int
	BasePath   string
	HealthPath string
	TLSEnabled bool
}

// ServiceID returns the derived, stable identifier for r: it depends only on
// name and advertised host/port, so it is identical across processes that
// share that triple.
func (r RegistrationRecord) ServiceID() string {
	return fmt.Sprintf("%s-%s-%d", r.Name, r.AdvertisedHost, r.AdvertisedPort)
}

// ServiceAddress returns the internal host:port pair when present, else the
// advertised one — the address the backend should actually probe and route
// traffic to.
func (r RegistrationRecord) ServiceAddress() (string, int) {
	if r.InternalHost != "" && r.InternalPort != 0 {
		return r.InternalHost, r.InternalPort
	}
	return r.AdvertisedHost, r.AdvertisedPort
}

// BackendTags returns Tags plus one "capability:<cap>" entry per capability.
func (r RegistrationRecord) BackendTags() []string {
	tags := make([]string, 0, len(r.Tags)+len(r.Capabilities))
	tags = append(tags, r.Tags...)
	for _, cap := range r.Capabilities {
		tags = append(tags, "capability:"+cap)
	}
	return tags
}

// BackendMeta returns the sanitized metadata map sent to the backend: dots
// in keys replaced with underscores (Consul rejects them), plus the
// standard identity fields and one flattened row set per HTTP endpoint.
func (r RegistrationRecord) BackendMeta() map[string]string {
	meta := make(map[string]string, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		meta[sanitizeKey(k)] = v
	}

	meta["advertised-host"] = r.AdvertisedHost
	meta["advertised-port"] = fmt.Sprintf("%d", r.AdvertisedPort)
	meta["version"] = r.Version
	meta["service-type"] = r.Type

	for i, ep := range r.HTTPEndpoints {
		prefix := fmt.Sprintf("http_endpoint_%d_", i)
		meta[prefix+"scheme"] = ep.Scheme
		meta[prefix+"host"] = ep.Host
		meta[prefix+"port"] = fmt.Sprintf("%d", ep.Port)
		meta[prefix+"base_path"] = ep.BasePath
		meta[prefix+"health_path"] = ep.HealthPath
		meta[prefix+"tls_enabled"] = fmt.Sprintf("%t", ep.TLSEnabled)
	}

	return meta
}

func sanitizeKey(k string) string {
	return strings.ReplaceAll(k, ".", "_")
}

// ResolveHealthURL implements the Open Question decision on an ambiguous
// registration.http.health-url value: parse it as a full URL first; only a
// value with both a non-empty scheme and host counts as absolute and
// overrides scheme/host/port/path atomically (ok=true). Anything else —
// including a bare path that happens to contain a colon — falls through
// (ok=false) so the caller treats raw unchanged as a healthPath override.
func ResolveHealthURL(raw string) (scheme, host string, port int, path string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", "", 0, "", false
	}

	p := 0
	if ps := u.Port(); ps != "" {
		p, _ = strconv.Atoi(ps)
	}

	path = u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return u.Scheme, u.Hostname(), p, path, true
}

// reservedGRPCServices are excluded from GRPCServices and from per-service
// health checks: they are infrastructure, not application surface.
var reservedGRPCServices = map[string]bool{
	"grpc.health.v1.Health":                    true,
	"grpc.reflection.v1.ServerReflection":      true,
	"grpc.reflection.v1alpha.ServerReflection": true,
}

// FilterReservedServices strips reserved names and returns the remaining
// ones sorted and deduplicated, matching the rule C7 applies before handing
// GRPCServices to a Registrar.
func FilterReservedServices(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if reservedGRPCServices[n] || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Validate checks the invariants direct-mode registration requires before
// any backend call is attempted, via struct tags on RegistrationRecord
// rather than hand-rolled field checks.
func (r RegistrationRecord) Validate() error {
	err := recordValidator.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ErrInvalidRecord{Field: "record", Reason: err.Error()}
	}

	fe := verrs[0]
	return &ErrInvalidRecord{Field: lowerFirst(fe.Field()), Reason: validationReason(fe)}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "min", "max":
		return "must be in 1..65535"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
