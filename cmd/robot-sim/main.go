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

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/config"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/robotsim"
)

// robot-sim listens where the robot would (ROBOT_PORT) so a console can be
// exercised without hardware.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("could not load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	if cfg.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	robot := robotsim.NewRobot(robotsim.Config{
		CommandRoute:   cfg.CommandRoute,
		TelemetryRoute: cfg.TelemetryRoute,
		Interval:       cfg.SimOdometryInterval,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go robot.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RobotPort),
		Handler:           robotsim.NewRouter(robot),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("robot_sim_listening", "addr", srv.Addr,
			"command_route", cfg.CommandRoute, "telemetry_route", cfg.TelemetryRoute)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("robot_sim_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("robot_sim_shutdown_failed", "error", err)
	}
}
