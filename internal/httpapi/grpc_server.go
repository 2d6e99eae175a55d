package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"docvault.org/internal/obs"
)

const grpcServiceName = "docvault.v1.AccessService"

// NewGRPCServer builds a gRPC server exposing the standard health service.
// Orchestrators probe it the same way /readyz is probed on the HTTP plane.
func NewGRPCServer(rp ReadyProbe) *grpc.Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)

	go watchReadiness(context.Background(), rp, hs)
	return srv
}

// ServeGRPC listens and serves until the context ends, then stops gracefully.
func ServeGRPC(ctx context.Context, srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return srv.Serve(lis)
}

// watchReadiness mirrors the ready probe into the health service status.
func watchReadiness(ctx context.Context, rp ReadyProbe, hs *health.Server) {
	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := rp.Check(checkCtx); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			obs.SetReady(false)
		} else {
			obs.SetReady(true)
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(grpcServiceName, status)
	}

	update()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
