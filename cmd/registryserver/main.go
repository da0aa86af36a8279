// Command registryserver is a minimal reference implementation of the
// central registry service spec §4.4's gRPC mode registers against: it
// accepts a streamed RegisterRequest, drives it straight into Consul through
// registrar.ConsulRegistrar (the same direct-mode driver an in-process
// registration would use), and relays each RegistrationEvent back over the
// stream as a RegisterResponse. It exists to make the gRPC-mode registration
// path round-trip testable against a real server instead of only against a
// fake.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/source-build/go-dynrpc/internal/dlog"
	"github.com/source-build/go-dynrpc/registrar"
	"github.com/source-build/go-dynrpc/registrypb"
)

var (
	listenAddr = flag.String("listen", ":7800", "address to listen on")
	consulAddr = flag.String("consul", "127.0.0.1:8500", "consul agent address")
)

func main() {
	flag.Parse()
	log := dlog.Named("registryserver")

	client, err := consulapi.NewClient(&consulapi.Config{Address: *consulAddr})
	if err != nil {
		log.Fatal("build consul client", zap.Error(err))
	}

	srv := &server{inner: registrar.NewConsulRegistrar(client, 0), consul: client}

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatal("listen", zap.Error(err), zap.String("addr", *listenAddr))
	}

	s := grpc.NewServer()
	registrypb.RegisterRegistryServer(s, srv)

	log.Info("registry service listening", zap.String("addr", *listenAddr))
	if err := s.Serve(lis); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

// server adapts registrar.ConsulRegistrar's RegistrationEvent stream to the
// registrypb wire protocol.
type server struct {
	inner  *registrar.ConsulRegistrar
	consul *consulapi.Client
}

func (s *server) Register(req *registrypb.RegisterRequest, stream registrypb.RegisterServerStream) error {
	rec := fromWireRequest(req)

	events, err := s.inner.Register(stream.Context(), rec)
	if err != nil {
		return stream.Send(&registrypb.RegisterResponse{
			CorrelationID: req.CorrelationID,
			Event:         string(registrar.EventFailed),
			Reason:        err.Error(),
		})
	}

	for ev := range events {
		if err := stream.Send(&registrypb.RegisterResponse{
			CorrelationID: req.CorrelationID,
			Event:         string(ev.Kind),
			ServiceID:     ev.ServiceID,
			Reason:        ev.Reason,
			Permanent:     ev.Permanent,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *server) Unregister(ctx context.Context, req *registrypb.UnregisterRequest) (*registrypb.UnregisterResponse, error) {
	// Deregister directly by the id the caller already derived, rather than
	// going through ConsulRegistrar.Unregister (which re-derives the id from
	// a full RegistrationRecord this handler was never given).
	if err := s.consul.Agent().ServiceDeregister(req.ServiceID); err != nil {
		return nil, fmt.Errorf("unregister %s: %w", req.ServiceID, err)
	}
	return &registrypb.UnregisterResponse{Acknowledged: true}, nil
}

func fromWireRequest(req *registrypb.RegisterRequest) registrar.RegistrationRecord {
	eps := make([]registrar.HTTPEndpoint, 0, len(req.HTTPEndpoints))
	for _, ep := range req.HTTPEndpoints {
		eps = append(eps, registrar.HTTPEndpoint{
			Scheme:     ep.Scheme,
			Host:       ep.Host,
			Port:       int(ep.Port),
			BasePath:   ep.BasePath,
			HealthPath: ep.HealthPath,
			TLSEnabled: ep.TLSEnabled,
		})
	}
	return registrar.RegistrationRecord{
		Name:           req.Name,
		Type:           req.Type,
		Version:        req.Version,
		AdvertisedHost: req.AdvertisedHost,
		AdvertisedPort: int(req.AdvertisedPort),
		InternalHost:   req.InternalHost,
		InternalPort:   int(req.InternalPort),
		TLSEnabled:     req.TLSEnabled,
		Tags:           req.Tags,
		Capabilities:   req.Capabilities,
		Metadata:       req.Metadata,
		HTTPEndpoints:  eps,
		GRPCServices:   req.GRPCServices,
	}
}
