package registrar

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/source-build/go-dynrpc/client"
	"github.com/source-build/go-dynrpc/registrypb"
)

// GRPCRegistrar streams a RegisterRequest to a central registry service
// reached through a dynamic channel obtained from the client factory (C3),
// rather than registering straight into Consul. Grounded on registration.go's
// watcher loop: consume a stream until a terminal event or a stream error,
// translating each response into a RegistrationEvent the lifecycle manager
// interprets exactly the way it interprets direct-mode events.
type GRPCRegistrar struct {
	factory       *client.Factory
	discoveryName string
}

func NewGRPCRegistrar(factory *client.Factory, discoveryName string) *GRPCRegistrar {
	return &GRPCRegistrar{factory: factory, discoveryName: discoveryName}
}

func (g *GRPCRegistrar) Register(ctx context.Context, rec RegistrationRecord) (<-chan RegistrationEvent, error) {
	if err := rec.Validate(); err != nil {
		events := make(chan RegistrationEvent, 1)
		events <- RegistrationEvent{Kind: EventFailed, Reason: err.Error(), Permanent: true}
		close(events)
		return events, nil
	}

	conn, err := g.factory.Get(ctx, g.discoveryName)
	if err != nil {
		return nil, &ErrTransient{Err: err}
	}

	req := toWireRequest(rec)
	req.CorrelationID = uuid.NewString()

	stream, err := registrypb.NewRegistryClient(conn).Register(ctx, req)
	if err != nil {
		return nil, &ErrTransient{Err: err}
	}

	events := make(chan RegistrationEvent, 8)
	go pump(stream, events, req.CorrelationID)
	return events, nil
}

func pump(stream registrypb.RegisterStream, events chan<- RegistrationEvent, correlationID string) {
	defer close(events)
	var sawTerminal bool
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			// A clean close after COMPLETED is the server's normal post-terminal
			// behavior (spec: re-registration is not triggered by it). A clean
			// close before any terminal event was observed is itself a failure.
			if !sawTerminal {
				events <- RegistrationEvent{Kind: EventFailed, Reason: "stream closed before a terminal event", CorrelationID: correlationID}
			}
			return
		}
		if err != nil {
			// Non-EOF error: a transport failure. Before a terminal event this is
			// an ordinary registration failure; after COMPLETED it is the
			// REGISTERED->UNREGISTERED "stream failure" transition, reported as
			// another FAILED event for the lifecycle manager to interpret in
			// context of its current state.
			events <- RegistrationEvent{Kind: EventFailed, Reason: err.Error(), CorrelationID: correlationID}
			return
		}

		ev := RegistrationEvent{
			Kind:          EventKind(resp.Event),
			ServiceID:     resp.ServiceID,
			Reason:        resp.Reason,
			Permanent:     resp.Permanent,
			CorrelationID: correlationID,
		}
		events <- ev
		if ev.Kind.Terminal() {
			if ev.Kind == EventFailed {
				return
			}
			sawTerminal = true
			continue
		}
	}
}

// Unregister sends a best-effort Unregister call; callers bound ctx with a
// deadline.
func (g *GRPCRegistrar) Unregister(ctx context.Context, rec RegistrationRecord) error {
	conn, err := g.factory.Get(ctx, g.discoveryName)
	if err != nil {
		return err
	}
	_, err = registrypb.NewRegistryClient(conn).Unregister(ctx, &registrypb.UnregisterRequest{ServiceID: rec.ServiceID()})
	return err
}

func toWireRequest(rec RegistrationRecord) *registrypb.RegisterRequest {
	eps := make([]registrypb.HTTPEndpoint, 0, len(rec.HTTPEndpoints))
	for _, ep := range rec.HTTPEndpoints {
		eps = append(eps, registrypb.HTTPEndpoint{
			Scheme:     ep.Scheme,
			Host:       ep.Host,
			Port:       int32(ep.Port),
			BasePath:   ep.BasePath,
			HealthPath: ep.HealthPath,
			TLSEnabled: ep.TLSEnabled,
		})
	}
	return &registrypb.RegisterRequest{
		Name:           rec.Name,
		Type:           rec.Type,
		Version:        rec.Version,
		AdvertisedHost: rec.AdvertisedHost,
		AdvertisedPort: int32(rec.AdvertisedPort),
		InternalHost:   rec.InternalHost,
		InternalPort:   int32(rec.InternalPort),
		TLSEnabled:     rec.TLSEnabled,
		Tags:           rec.BackendTags(),
		Capabilities:   rec.Capabilities,
		Metadata:       rec.BackendMeta(),
		HTTPEndpoints:  eps,
		GRPCServices:   rec.GRPCServices,
	}
}
