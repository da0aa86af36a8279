package registrar

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/source-build/go-dynrpc/channel"
	"github.com/source-build/go-dynrpc/client"
	"github.com/source-build/go-dynrpc/discovery"
	"github.com/source-build/go-dynrpc/registrypb"
)

// scriptedRegistryServer streams a fixed event sequence back for every
// Register call and records Unregister invocations, so GRPCRegistrar can be
// exercised end-to-end over a real (in-memory) gRPC connection.
type scriptedRegistryServer struct {
	events      []registrypb.RegisterResponse
	unregisters []string
}

func (s *scriptedRegistryServer) Register(req *registrypb.RegisterRequest, stream registrypb.RegisterServerStream) error {
	for _, ev := range s.events {
		ev.CorrelationID = req.CorrelationID
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptedRegistryServer) Unregister(_ context.Context, req *registrypb.UnregisterRequest) (*registrypb.UnregisterResponse, error) {
	s.unregisters = append(s.unregisters, req.ServiceID)
	return &registrypb.UnregisterResponse{Acknowledged: true}, nil
}

func newBufconnFactory(t *testing.T, srv registrypb.RegistryServer) (*client.Factory, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	registrypb.RegisterRegistryServer(gs, srv)
	go gs.Serve(lis)

	dial := func(ctx context.Context, name string) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, "bufnet",
			grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	cache := channel.NewManager(channel.CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	factory := client.NewFactory(discovery.NewResolver(), cache)

	return factory, func() {
		factory.Shutdown()
		gs.Stop()
	}
}

func TestGRPCRegistrar_Register_StreamsToCompletion(t *testing.T) {
	srv := &scriptedRegistryServer{events: []registrypb.RegisterResponse{
		{Event: string(EventStarted)},
		{Event: string(EventValidated)},
		{Event: string(EventConsulRegistered), ServiceID: "svc-h-9000"},
		{Event: string(EventConsulHealthy), ServiceID: "svc-h-9000"},
		{Event: string(EventCompleted), ServiceID: "svc-h-9000"},
	}}
	factory, cleanup := newBufconnFactory(t, srv)
	defer cleanup()

	reg := NewGRPCRegistrar(factory, "registry-service")
	events, err := reg.Register(context.Background(), RegistrationRecord{Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000})
	require.NoError(t, err)

	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventStarted, EventValidated, EventConsulRegistered, EventConsulHealthy, EventCompleted}, kinds)
}

func TestGRPCRegistrar_Register_InvalidRecordNeverDialsRegistry(t *testing.T) {
	srv := &scriptedRegistryServer{}
	factory, cleanup := newBufconnFactory(t, srv)
	defer cleanup()

	reg := NewGRPCRegistrar(factory, "registry-service")
	events, err := reg.Register(context.Background(), RegistrationRecord{}) // missing name/host/port
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, EventFailed, ev.Kind)
	assert.True(t, ev.Permanent)
	_, open := <-events
	assert.False(t, open)
}

func TestGRPCRegistrar_Register_ServerRejectionCarriesPermanentFlag(t *testing.T) {
	srv := &scriptedRegistryServer{events: []registrypb.RegisterResponse{
		{Event: string(EventFailed), Reason: "duplicate service id", Permanent: true},
	}}
	factory, cleanup := newBufconnFactory(t, srv)
	defer cleanup()

	reg := NewGRPCRegistrar(factory, "registry-service")
	events, err := reg.Register(context.Background(), RegistrationRecord{Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, EventFailed, ev.Kind)
	assert.True(t, ev.Permanent)
}

func TestGRPCRegistrar_Unregister_Acknowledged(t *testing.T) {
	srv := &scriptedRegistryServer{}
	factory, cleanup := newBufconnFactory(t, srv)
	defer cleanup()

	reg := NewGRPCRegistrar(factory, "registry-service")
	rec := RegistrationRecord{Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000}
	err := reg.Unregister(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-h-9000"}, srv.unregisters)
}

func TestGRPCRegistrar_Register_StreamFailureAfterCompletedSurfacesFailedEvent(t *testing.T) {
	srv := &streamingThenFailingServer{
		initial: []registrypb.RegisterResponse{
			{Event: string(EventCompleted), ServiceID: "svc-h-9000"},
		},
	}
	factory, cleanup := newBufconnFactory(t, srv)
	defer cleanup()

	reg := NewGRPCRegistrar(factory, "registry-service")
	events, err := reg.Register(context.Background(), RegistrationRecord{Name: "svc", AdvertisedHost: "h", AdvertisedPort: 9000})
	require.NoError(t, err)

	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventCompleted, kinds[0])
	assert.Equal(t, EventFailed, kinds[len(kinds)-1])
}

// streamingThenFailingServer sends its scripted events, then returns a
// transport error instead of closing cleanly, simulating a connection drop
// after a successful registration.
type streamingThenFailingServer struct {
	initial []registrypb.RegisterResponse
}

func (s *streamingThenFailingServer) Register(req *registrypb.RegisterRequest, stream registrypb.RegisterServerStream) error {
	for _, ev := range s.initial {
		ev.CorrelationID = req.CorrelationID
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	return errors.New("simulated connection loss")
}

func (s *streamingThenFailingServer) Unregister(context.Context, *registrypb.UnregisterRequest) (*registrypb.UnregisterResponse, error) {
	return &registrypb.UnregisterResponse{Acknowledged: true}, nil
}
