// Package api serves the gRPC health endpoint of the update daemon. The
// overall status ("") and the per-job service names report SERVING after a
// successful run and NOT_SERVING after a failed one.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts the gRPC health service.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a Server that will listen on host:port. Every service
// starts out NOT_SERVING until the first run reports.
func NewServer(host string, port int) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		grpc:   gs,
		health: hs,
		log:    slog.Default().With("component", "api"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Report records the outcome of a run of service. The overall status
// follows the most recent report.
func (s *Server) Report(service string, err error) {
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.health.SetServingStatus("", status)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("grpc health listening", "addr", lis.Addr().String())
		errc <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Shutdown marks every service NOT_SERVING and stops the server after
// in-flight calls complete.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
