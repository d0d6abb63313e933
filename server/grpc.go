package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/theleeeo/records/resource"
)

// GRPCServer serves the standard health service, with one service name per
// resource next to the overall "" service, plus server reflection.
type GRPCServer struct {
	*grpc.Server

	health *health.Server
}

func NewGRPC(resources resource.Configs, opts ...grpc.ServerOption) *GRPCServer {
	g := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, rc := range resources {
		hs.SetServingStatus(rc.Resource, healthpb.HealthCheckResponse_SERVING)
	}

	healthpb.RegisterHealthServer(g, hs)
	reflection.Register(g)

	return &GRPCServer{
		Server: g,
		health: hs,
	}
}

// GracefulStop reports every service as not serving before draining connections.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}
