package grpcserver

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps are the collaborators shared by all services.
type Deps struct {
	Orders    *orders.Service
	Feed      *realtime.Broker
	Locations tracking.Sink
	History   tracking.History
	Router    routing.Router
	TrailSize int
	Log       logger.ILogger
}

// Server holds the dependencies of CustomerService, CourierService and KitchenService.
type Server struct {
	orders    *orders.Service
	feed      *realtime.Broker
	locations tracking.Sink
	history   tracking.History
	router    routing.Router
	trailSize int
	log       logger.ILogger
}

// NewServer validates deps.
func NewServer(d Deps) (*Server, error) {
	if d.Orders == nil || d.Feed == nil || d.Locations == nil {
		return nil, errors.New("grpcserver: orders, feed and locations are required")
	}
	s := &Server{
		orders:    d.Orders,
		feed:      d.Feed,
		locations: d.Locations,
		history:   d.History,
		router:    d.Router,
		trailSize: d.TrailSize,
		log:       d.Log,
	}
	if s.router == nil {
		s.router = routing.NewFallback(nil, nil)
	}
	if s.trailSize <= 0 {
		s.trailSize = tracking.MaxTrail
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s, nil
}

// Register installs the three services and a health service on g.
func (s *Server) Register(g *grpc.Server) {
	for _, d := range []grpc.ServiceDesc{
		(&CustomerServer{s}).desc(),
		(&CourierServer{s}).desc(),
		(&KitchenServer{s}).desc(),
	} {
		g.RegisterService(&d, s)
	}
	healthpb.RegisterHealthServer(g, health.NewServer())
}

// NewGRPCServer returns a grpc.Server with JWT interceptors and all services registered.
func NewGRPCServer(secret string, s *Server) *grpc.Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(auth.NewUnaryAuthInterceptor(secret, healthCheckMethod)),
		grpc.StreamInterceptor(auth.NewStreamAuthInterceptor(secret)),
	)
	s.Register(g)
	return g
}

// StartGRPC serves on addr in the background and returns a shutdown function.
func StartGRPC(addr, secret string, s *Server) (func(context.Context) error, error) {
	if addr == "" {
		addr = ":50051"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := NewGRPCServer(secret, s)
	go func() {
		if err := srv.Serve(lis); err != nil {
			s.log.Error("grpc server stopped", logger.Error(err))
		}
	}()
	s.log.Info("grpc server listening", logger.String("address", lis.Addr().String()))

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}, nil
}
