package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/source-build/go-dynrpc/channel"
	"github.com/source-build/go-dynrpc/client"
	"github.com/source-build/go-dynrpc/discovery"
)

// startEchoServer runs a real gRPC server (grpc-go's own health service, so
// no generated stub is needed) on a loopback port and returns its address.
func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	return lis.Addr().String(), srv.Stop
}

func newTestFactory(t *testing.T) (*client.Factory, func()) {
	t.Helper()
	disc := discovery.NewResolver()
	disc.RegisterBackend(discovery.NewStaticBackend())
	disc.RegisterBackend(discovery.NewDirectBackend())

	dial, stopDialer, err := channel.NewChannelDialer(disc, time.Minute, channel.TLSPolicy{}, channel.AuthPolicy{}, channel.Policy(""))
	require.NoError(t, err)

	cache := channel.NewManager(channel.CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	f := client.NewFactory(disc, cache)
	return f, func() {
		f.Shutdown()
		if stopDialer != nil {
			stopDialer()
		}
	}
}

func TestFactory_StaticDiscoveryRoundTrip(t *testing.T) {
	addr, stopServer := startEchoServer(t)
	defer stopServer()

	f, cleanup := newTestFactory(t)
	defer cleanup()

	require.NoError(t, f.EnsureService("svc-a", discovery.BackendStatic, discovery.BackendParams{Addresses: []string{addr}}))

	conn, err := f.Get(context.Background(), "svc-a")
	require.NoError(t, err)

	hc := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	assert.Equal(t, 1, f.ActiveCount())
	f.Evict("svc-a")
	assert.Equal(t, 0, f.ActiveCount())
}

func TestFactory_ServiceUnknown(t *testing.T) {
	f, cleanup := newTestFactory(t)
	defer cleanup()

	_, err := f.Get(context.Background(), "never-defined")
	var unknown *client.ErrServiceUnknown
	require.ErrorAs(t, err, &unknown)
}

func TestFactory_Stats(t *testing.T) {
	addr, stopServer := startEchoServer(t)
	defer stopServer()

	f, cleanup := newTestFactory(t)
	defer cleanup()

	require.NoError(t, f.EnsureService("svc-a", discovery.BackendStatic, discovery.BackendParams{Addresses: []string{addr}}))
	_, err := f.Get(context.Background(), "svc-a")
	require.NoError(t, err)

	stats := f.Stats()
	assert.Equal(t, 1, stats.ActiveChannels)
}
