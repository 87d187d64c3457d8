package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/api"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/config"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/console"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/metrics"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

func main() {
	if err := run(); err != nil {
		slog.Error("console_server_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1️⃣ Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// 2️⃣ Metrics
	var registry *prometheus.Registry
	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.New(metrics.WithRegistry(registry))
	}

	// 3️⃣ Optional Redis pose cache
	var sink telemetry.Sink
	if cfg.RedisURL != "" {
		rs, err := telemetry.NewRedisSink(cfg.RedisURL, cfg.PoseTTL)
		if err != nil {
			return err
		}
		defer rs.Close()
		sink = rs
		logger.Info("pose_cache_enabled", "ttl", cfg.PoseTTL.String())
	}

	// 4️⃣ Robot channels
	format, err := command.ParseFormat(cfg.WireFormat)
	if err != nil {
		return err
	}
	gripper := command.GripperOpen
	if cfg.GripperInitial == "closed" {
		gripper = command.GripperClosed
	}

	opts := []wsmux.Option{
		wsmux.WithLogger(logger),
		wsmux.WithMetrics(collector),
		wsmux.WithKeepalive(cfg.PingPeriod, cfg.PongWait, cfg.WriteWait),
		wsmux.WithMaxMessageSize(int64(cfg.MaxMessageSize)),
		wsmux.WithReconnectPolicy(wsmux.ReconnectPolicy{
			MaxAttempts:     cfg.ReconnectMaxAttempts,
			InitialInterval: cfg.ReconnectInitialInterval,
			MaxInterval:     cfg.ReconnectMaxInterval,
		}),
	}
	if cfg.TelemetryRateLimit > 0 {
		opts = append(opts, wsmux.WithInboundLimit(cfg.TelemetryRateLimit, cfg.TelemetryBurst))
	}
	manager := wsmux.NewManager(wsmux.Endpoint{
		Scheme: cfg.RobotScheme,
		Host:   cfg.RobotHost,
		Port:   cfg.RobotPort,
		Sender: cfg.SenderID,
	}, opts...)

	con, err := console.New(manager, console.Config{
		CommandRoute:   cfg.CommandRoute,
		TelemetryRoute: cfg.TelemetryRoute,
		Format:         format,
		Gripper:        gripper,
		Sink:           sink,
		Logger:         logger,
	})
	if err != nil {
		manager.Close()
		return err
	}
	defer con.Close()

	// 5️⃣ HTTP API
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	routerCfg := api.RouterConfig{CORSOrigins: cfg.CORSOrigins, Logger: logger}
	if registry != nil {
		routerCfg.Gatherer = registry
	}
	router := api.NewRouter(api.NewCommandHandler(con, cfg.CommandRoute), routerCfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console_server_listening",
			"addr", srv.Addr,
			"robot", wsmux.Endpoint{Scheme: cfg.RobotScheme, Host: cfg.RobotHost, Port: cfg.RobotPort, Sender: cfg.SenderID}.Address(cfg.CommandRoute),
			"format", format.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
