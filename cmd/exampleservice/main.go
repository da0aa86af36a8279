// Command exampleservice demonstrates wiring a plain gRPC server through
// client.Factory, registrar and lifecycle via the dynrpc orchestrator:
// register services on the *grpc.Server, build the runtime (which collects
// metadata off those registered services), serve, then start registration,
// and tear both down together on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/source-build/go-dynrpc"
	"github.com/source-build/go-dynrpc/internal/config"
	"github.com/source-build/go-dynrpc/internal/dlog"
	"github.com/source-build/go-dynrpc/metadata"
	"github.com/source-build/go-dynrpc/readiness"
)

var configFile = flag.String("config", "", "path to a config file (any viper-supported format)")

func main() {
	flag.Parse()
	log := dlog.Named("exampleservice")

	cfg, err := config.Load(*configFile, true)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	lis, err := net.Listen("tcp", ":0")
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	addr := lis.Addr().(*net.TCPAddr)

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	rt, err := dynrpc.New(cfg, dynrpc.Options{
		MetadataOverrides: metadata.Overrides{
			ApplicationName: "exampleservice",
			GRPCPort:        addr.Port,
		},
		GRPCServer: grpcServer,
		Production: os.Getenv("ENV") == "production",
	})
	if err != nil {
		log.Fatal("build runtime", zap.Error(err))
	}

	gate := rt.Readiness
	if cfg.Registration.HTTP.Enabled {
		go serveReadiness(gate, log)
	}

	go func() {
		log.Info("grpc server listening", zap.String("addr", addr.String()))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc serve exited", zap.Error(err))
		}
	}()

	startCtx, cancelStart := context.WithCancel(context.Background())
	rt.Start(startCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancelStart()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	rt.Shutdown(shutdownCtx)

	healthSrv.Shutdown()
	grpcServer.GracefulStop()
}

func serveReadiness(gate *readiness.Gate, log *zap.Logger) {
	addr := ":8090"
	engine := gin.Default()
	engine.GET("/q/health/ready", gate.Handler())

	log.Info("readiness http surface listening", zap.String("addr", addr))
	if err := engine.Run(addr); err != nil {
		log.Error("readiness http server exited", zap.Error(err))
	}
}
