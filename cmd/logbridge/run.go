package main

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/forwarder"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/health"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/logging"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/output"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/server"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/tracing"
)

var (
	activeStates = []string{
		forwarder.StateTailing.String(),
		forwarder.StateParse.String(),
		forwarder.StateFlatten.String(),
		forwarder.StatePublish.String(),
	}
	terminalStates = []string{
		forwarder.StateAborted.String(),
		forwarder.StateStopped.String(),
	}
)

// run wires the sink, observability and forwarder together and blocks until
// the forwarder stops. Signal-driven cancellation is a clean exit.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info().
		Str("version", version).
		Str("path", cfg.Input.Path).
		Str("output", cfg.Output.Type).
		Str("stream", cfg.Output.Stream).
		Msg("Starting logbridge")

	shut := shutdown.New(shutdown.Config{Logger: logger.WithComponent("shutdown")})
	defer shut.Shutdown()

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	shut.RegisterFunc("tracing", tp.Shutdown)

	sink, err := output.New(cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to create %s output: %w", cfg.Output.Type, err)
	}

	collector := metrics.NewCollector()
	fwd := forwarder.New(forwarder.ConfigFrom(cfg), sink, logger,
		forwarder.WithMetrics(collector),
		forwarder.WithRetry(reliability.PolicyFromConfig(cfg.Reliability)),
		forwarder.WithTracer(tp.Tracer()),
	)

	var healthTimeout time.Duration
	if cfg.Health != nil {
		healthTimeout = cfg.Health.Timeout
	}
	state := func() string { return fwd.State().String() }
	checker := health.NewChecker(healthTimeout)
	checker.RegisterLiveness("forwarder", health.StateCheck(state, append([]string{forwarder.StateWaitingForFile.String()}, activeStates...), terminalStates))
	checker.RegisterReadiness("forwarder", health.StateCheck(state, activeStates, terminalStates))
	checker.RegisterReadiness("output", outputCheck(sink))

	srv := server.New(server.Config{
		Metrics:         cfg.Metrics,
		Health:          cfg.Health,
		MetricsRegistry: collector.Registry(),
		HealthChecker:   checker,
		Logger:          logger.WithComponent("server"),
	})
	if err := srv.Start(); err != nil {
		sink.Close()
		return err
	}
	shut.RegisterFunc("http", srv.Stop)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		collector.Start(15 * time.Second)
		shut.RegisterFunc("metrics", func(context.Context) error {
			collector.Stop()
			return nil
		})
	}

	shut.RegisterCloser("output", sink.Close)

	err = fwd.Run(ctx)
	if isShutdown(err) {
		logger.Info().Msg("Stopping on shutdown signal")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("state", fwd.State().String()).Msg("Forwarder stopped")
	}
	return err
}

// outputCheck pings the sink and reports its delivery counters
func outputCheck(sink output.Sink) health.HealthCheck {
	ping := health.PingCheck(sink.Ping)
	return func(ctx context.Context) health.ComponentHealth {
		result := ping(ctx)
		m := sink.Metrics()
		result.Metadata = map[string]interface{}{
			"output":        sink.Name(),
			"events_sent":   m.EventsSent,
			"events_failed": m.EventsFailed,
			"bytes_sent":    m.BytesSent,
			"avg_latency":   m.AvgLatency.String(),
		}
		if m.LastError != "" {
			result.Metadata["last_error"] = m.LastError
		}
		return result
	}
}
