package registrar

import (
	"errors"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAgentRegistration_ScenarioFromSpec(t *testing.T) {
	c := &ConsulRegistrar{}
	rec := RegistrationRecord{
		Name:           "svc",
		AdvertisedHost: "h",
		AdvertisedPort: 9000,
		Version:        "1.0.0",
		Type:           "service",
		GRPCServices:   []string{"my.pkg.Svc"},
	}

	reg := c.buildAgentRegistration(rec)

	assert.Equal(t, "svc-h-9000", reg.ID)
	assert.Equal(t, "svc", reg.Name)
	assert.Equal(t, "h", reg.Address)
	assert.Equal(t, 9000, reg.Port)
	assert.Equal(t, "h", reg.Meta["advertised-host"])
	assert.Equal(t, "9000", reg.Meta["advertised-port"])
	assert.Equal(t, "1.0.0", reg.Meta["version"])

	require.Len(t, reg.Checks, 2)
	assert.Equal(t, "h:9000", reg.Checks[0].GRPC)
	assert.Equal(t, "h:9000/my.pkg.Svc", reg.Checks[1].GRPC)
	assert.Equal(t, "10s", reg.Checks[0].Interval)
	assert.Equal(t, "1m", reg.Checks[0].DeregisterCriticalServiceAfter)
}

func TestBuildAgentRegistration_UsesInternalAddressWhenPresent(t *testing.T) {
	c := &ConsulRegistrar{}
	rec := RegistrationRecord{Name: "svc", AdvertisedHost: "adv", AdvertisedPort: 1, InternalHost: "int", InternalPort: 2}

	reg := c.buildAgentRegistration(rec)
	assert.Equal(t, "int", reg.Address)
	assert.Equal(t, 2, reg.Port)
	// The derived id still uses the advertised triple, not the internal one.
	assert.Equal(t, "svc-adv-1", reg.ID)
}

func TestBuildAgentRegistration_IncludesHTTPHealthCheck(t *testing.T) {
	c := &ConsulRegistrar{}
	rec := RegistrationRecord{
		Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000,
		HTTPEndpoints: []HTTPEndpoint{
			{Scheme: "https", Host: "h", Port: 8443, BasePath: "/api", HealthPath: "/q/health", TLSEnabled: true},
		},
	}

	reg := c.buildAgentRegistration(rec)
	require.Len(t, reg.Checks, 2)
	httpCheck := reg.Checks[1]
	assert.Equal(t, "https://h:8443/api/q/health", httpCheck.HTTP)
	assert.True(t, httpCheck.TLSSkipVerify)
}

func TestBuildAgentRegistration_SkipsHTTPCheckWhenNoHealthPath(t *testing.T) {
	c := &ConsulRegistrar{}
	rec := RegistrationRecord{
		Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000,
		HTTPEndpoints: []HTTPEndpoint{{Scheme: "http", Host: "h", Port: 8080}},
	}

	reg := c.buildAgentRegistration(rec)
	require.Len(t, reg.Checks, 1) // only the bare gRPC check
}

func TestBuildHealthURL_AbsoluteHealthPathUsedVerbatim(t *testing.T) {
	ep := HTTPEndpoint{BasePath: "/api", HealthPath: "https://override:9000/status"}
	assert.Equal(t, "https://override:9000/status", buildHealthURL(ep))
}

func TestBuildHealthURL_JoinsRelativePath(t *testing.T) {
	ep := HTTPEndpoint{Scheme: "http", Host: "h", Port: 8080, BasePath: "/api", HealthPath: "/q/health"}
	assert.Equal(t, "http://h:8080/api/q/health", buildHealthURL(ep))
}

func TestAllHealthy_RequiresEveryCheckPassing(t *testing.T) {
	checks := map[string]*consulapi.AgentCheck{
		"a": {ServiceID: "svc", Status: consulapi.HealthPassing},
		"b": {ServiceID: "svc", Status: consulapi.HealthPassing},
	}
	assert.True(t, allHealthy(checks, "svc"))

	checks["b"].Status = consulapi.HealthCritical
	assert.False(t, allHealthy(checks, "svc"))
}

func TestAllHealthy_NoChecksForServiceIsUnhealthy(t *testing.T) {
	checks := map[string]*consulapi.AgentCheck{
		"a": {ServiceID: "other-svc", Status: consulapi.HealthPassing},
	}
	assert.False(t, allHealthy(checks, "svc"))
}

func TestIsPermanentConsulError_ClientErrorIsPermanent(t *testing.T) {
	assert.True(t, isPermanentConsulError(consulapi.StatusError{Code: 400, Body: "invalid service definition"}))
	assert.True(t, isPermanentConsulError(consulapi.StatusError{Code: 409, Body: "conflict"}))
}

func TestIsPermanentConsulError_ServerOrConnectivityErrorIsNotPermanent(t *testing.T) {
	assert.False(t, isPermanentConsulError(consulapi.StatusError{Code: 500, Body: "internal"}))
	assert.False(t, isPermanentConsulError(errors.New("dial tcp: connection refused")))
}

func TestFirstHealthEndpoint(t *testing.T) {
	eps := []HTTPEndpoint{
		{HealthPath: ""},
		{HealthPath: "/q/health", Host: "h"},
	}
	ep, ok := firstHealthEndpoint(eps)
	require.True(t, ok)
	assert.Equal(t, "h", ep.Host)

	_, ok = firstHealthEndpoint(nil)
	assert.False(t, ok)
}
