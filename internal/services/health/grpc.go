package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

// ServiceName is the gRPC health service name reported next to the overall "".
const ServiceName = "uadashboard"

// DefaultWatchInterval is used by Watch when interval is not positive.
const DefaultWatchInterval = 5 * time.Second

// GRPCServer serves the standard gRPC health protocol, mirroring Checker.Ready.
type GRPCServer struct {
	srv     *grpc.Server
	health  *grpchealth.Server
	checker *Checker
	log     *zap.Logger
}

func NewGRPCServer(checker *Checker, log *zap.Logger) *GRPCServer {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &GRPCServer{
		srv:     srv,
		health:  hs,
		checker: checker,
		log:     logger.OrNamed(log, "grpc-health"),
	}
	g.update()
	return g
}

func (g *GRPCServer) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if g.checker.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Watch refreshes the serving status every interval until ctx is done.
func (g *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.update()
		}
	}
}

func (g *GRPCServer) Serve(lis net.Listener) error {
	g.log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	return g.srv.Serve(lis)
}

// Stop marks every service as not serving and stops the server gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.srv.GracefulStop()
}
