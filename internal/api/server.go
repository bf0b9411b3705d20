// Package api serves backtest results over gRPC and JSON, and exposes
// Prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fxrange/internal/config"
	"fxrange/internal/metrics"
)

// Server hosts the gRPC report service and an HTTP listener carrying
// /metrics and the JSON report routes. An empty address disables the
// corresponding listener.
type Server struct {
	grpcAddr string
	httpAddr string

	reports *ReportServer
	grpc    *grpc.Server
	health  *health.Server
	http    *http.Server
	log     *slog.Logger
}

// NewServer creates a Server configured from cfg.Server.
func NewServer(cfg *config.Config, reports *ReportServer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gs := grpc.NewServer()
	reports.RegisterGRPC(gs)

	hs := health.NewServer()
	hs.SetServingStatus(ReportsService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/", reports.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		grpcAddr: cfg.Server.GRPCAddr,
		httpAddr: cfg.Server.MetricsAddr,
		reports:  reports,
		grpc:     gs,
		health:   hs,
		http: &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "server"),
	}
}

// Reports returns the report service so callers can publish runs.
func (s *Server) Reports() *ReportServer { return s.reports }

// ListenAndServe starts the gRPC and HTTP listeners and blocks until ctx is
// cancelled or a listener fails. On cancellation both servers are shut down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.grpcAddr == "" && s.httpAddr == "" {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
		}
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", lis.Addr().String())
			return s.Serve(lis)
		})
	}

	if s.httpAddr != "" {
		lis, err := net.Listen("tcp", s.httpAddr)
		if err != nil {
			return fmt.Errorf("http listen %s: %w", s.httpAddr, err)
		}
		g.Go(func() error {
			s.log.Info("metrics listening", "addr", lis.Addr().String())
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Serve runs the gRPC server on lis until it is stopped.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}

	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
