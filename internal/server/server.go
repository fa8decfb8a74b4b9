package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/health"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/logging"
)

// Server exposes the metrics and health endpoints
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *logging.Logger
}

// Config holds server configuration
type Config struct {
	Metrics         *config.MetricsConfig
	Health          *config.HealthConfig
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New creates a new server. A disabled or missing section leaves that
// endpoint out.
func New(cfg Config) *Server {
	s := &Server{
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.MetricsRegistry != nil {
		s.metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      MetricsMux(cfg.Metrics.Path, cfg.MetricsRegistry),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	if cfg.Health != nil && cfg.Health.Enabled && cfg.HealthChecker != nil {
		s.healthServer = &http.Server{
			Addr:         cfg.Health.Address,
			Handler:      HealthMux(cfg.Health.LivenessPath, cfg.Health.ReadinessPath, cfg.HealthChecker),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s
}

// MetricsMux serves registry at path (default /metrics)
func MetricsMux(path string, registry *prometheus.Registry) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	return mux
}

// HealthMux serves the liveness and readiness probes of checker
func HealthMux(livenessPath, readinessPath string, checker *health.Checker) *http.ServeMux {
	if livenessPath == "" {
		livenessPath = "/health/live"
	}
	if readinessPath == "" {
		readinessPath = "/health/ready"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, checker.LivenessHandler())
	mux.HandleFunc(readinessPath, checker.ReadinessHandler())
	mux.HandleFunc("/health", checker.ReadinessHandler())
	return mux
}

// Start binds the listeners and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	for _, srv := range []*http.Server{s.metricsServer, s.healthServer} {
		if srv == nil {
			continue
		}

		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}

		s.logger.Info().
			Str("address", ln.Addr().String()).
			Msg("Starting HTTP server")

		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("address", srv.Addr).Msg("HTTP server error")
			}
		}(srv, ln)
	}
	return nil
}

// Stop gracefully shuts down the servers
func (s *Server) Stop(ctx context.Context) error {
	var err error

	if s.metricsServer != nil {
		s.logger.Info().Msg("Shutting down metrics server")
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down metrics server")
			err = shutdownErr
		}
	}

	if s.healthServer != nil {
		s.logger.Info().Msg("Shutting down health server")
		if shutdownErr := s.healthServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down health server")
			if err == nil {
				err = shutdownErr
			}
		}
	}

	return err
}
