package registrar

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulRegistrar drives direct-mode registration straight into Consul's
// agent API: compose the service payload, install health checks, poll until
// they all pass, roll back on failure. Grounded on register_service.go's
// register/unregister/checkEtcdConnection shape, adapted from etcd
// lease-keepalive semantics to Consul's agent-check polling model.
type ConsulRegistrar struct {
	client        *consulapi.Client
	healthTimeout time.Duration
	pollInterval  time.Duration
}

func NewConsulRegistrar(client *consulapi.Client, healthTimeout time.Duration) *ConsulRegistrar {
	if healthTimeout <= 0 {
		healthTimeout = 30 * time.Second
	}
	return &ConsulRegistrar{client: client, healthTimeout: healthTimeout, pollInterval: 500 * time.Millisecond}
}

func (c *ConsulRegistrar) Register(ctx context.Context, rec RegistrationRecord) (<-chan RegistrationEvent, error) {
	events := make(chan RegistrationEvent, 8)
	go c.run(ctx, rec, events)
	return events, nil
}

func (c *ConsulRegistrar) run(ctx context.Context, rec RegistrationRecord, events chan<- RegistrationEvent) {
	defer close(events)
	events <- RegistrationEvent{Kind: EventStarted}

	if err := rec.Validate(); err != nil {
		events <- RegistrationEvent{Kind: EventFailed, Reason: err.Error(), Permanent: true}
		return
	}
	events <- RegistrationEvent{Kind: EventValidated}

	reg := c.buildAgentRegistration(rec)
	if err := c.client.Agent().ServiceRegister(reg); err != nil {
		events <- RegistrationEvent{Kind: EventFailed, Reason: err.Error(), Permanent: isPermanentConsulError(err)}
		return
	}
	events <- RegistrationEvent{Kind: EventConsulRegistered, ServiceID: reg.ID}
	events <- RegistrationEvent{Kind: EventHealthCheckConfigured, ServiceID: reg.ID}

	if err := c.waitHealthy(ctx, reg.ID); err != nil {
		_ = c.client.Agent().ServiceDeregister(reg.ID)
		events <- RegistrationEvent{Kind: EventFailed, ServiceID: reg.ID, Reason: err.Error()}
		return
	}
	events <- RegistrationEvent{Kind: EventConsulHealthy, ServiceID: reg.ID}
	events <- RegistrationEvent{Kind: EventCompleted, ServiceID: reg.ID}
}

// Unregister is best-effort; callers bound it with a deadline context.
func (c *ConsulRegistrar) Unregister(ctx context.Context, rec RegistrationRecord) error {
	return c.client.Agent().ServiceDeregister(rec.ServiceID())
}

func (c *ConsulRegistrar) buildAgentRegistration(rec RegistrationRecord) *consulapi.AgentServiceRegistration {
	host, port := rec.ServiceAddress()
	id := rec.ServiceID()

	checks := consulapi.AgentServiceChecks{
		{
			GRPC:                           fmt.Sprintf("%s:%d", host, port),
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	for _, svc := range rec.GRPCServices {
		checks = append(checks, &consulapi.AgentServiceCheck{
			GRPC:                           fmt.Sprintf("%s:%d/%s", host, port, svc),
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		})
	}
	if ep, ok := firstHealthEndpoint(rec.HTTPEndpoints); ok {
		checks = append(checks, &consulapi.AgentServiceCheck{
			HTTP:                           buildHealthURL(ep),
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
			TLSSkipVerify:                  ep.TLSEnabled,
		})
	}

	return &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    rec.Name,
		Address: host,
		Port:    port,
		Tags:    rec.BackendTags(),
		Meta:    rec.BackendMeta(),
		Checks:  checks,
	}
}

func firstHealthEndpoint(eps []HTTPEndpoint) (HTTPEndpoint, bool) {
	for _, ep := range eps {
		if ep.HealthPath != "" {
			return ep, true
		}
	}
	return HTTPEndpoint{}, false
}

func buildHealthURL(ep HTTPEndpoint) string {
	joined := JoinHealthPath(ep.BasePath, ep.HealthPath)
	if u, err := url.Parse(joined); err == nil && u.IsAbs() {
		return joined
	}
	scheme := ep.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, ep.Host, ep.Port, joined)
}

func (c *ConsulRegistrar) waitHealthy(ctx context.Context, serviceID string) error {
	deadline := time.Now().Add(c.healthTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		checks, err := c.client.Agent().Checks()
		if err == nil && allHealthy(checks, serviceID) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrUnhealthy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isPermanentConsulError reports whether err came back from the Consul agent
// as a client-side rejection (4xx, e.g. a malformed service definition)
// rather than a connectivity problem — the former should never be retried,
// the latter should.
func isPermanentConsulError(err error) bool {
	var statusErr consulapi.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500
	}
	return false
}

func allHealthy(checks map[string]*consulapi.AgentCheck, serviceID string) bool {
	found := false
	for _, chk := range checks {
		if chk.ServiceID != serviceID {
			continue
		}
		found = true
		if chk.Status != consulapi.HealthPassing {
			return false
		}
	}
	return found
}
