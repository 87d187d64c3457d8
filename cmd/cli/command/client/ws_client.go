package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/console"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

// ws_client.go = opens the robot routes for a single CLI invocation.

type Options struct {
	Endpoint       wsmux.Endpoint
	CommandRoute   string
	TelemetryRoute string // empty when the command does not watch telemetry
	Format         command.Format
	Timeout        time.Duration
	Verbose        bool
}

func logger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Connect opens the routes and waits until the command route is open.
func Connect(ctx context.Context, opts Options) (*console.Console, error) {
	log := logger(opts.Verbose)
	m := wsmux.NewManager(opts.Endpoint, wsmux.WithLogger(log))

	c, err := console.New(m, console.Config{
		CommandRoute:   opts.CommandRoute,
		TelemetryRoute: opts.TelemetryRoute,
		Format:         opts.Format,
		Logger:         log,
	})
	if err != nil {
		m.Close()
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("robot at %s not reachable: %w", opts.Endpoint.Address(opts.CommandRoute), err)
	}
	return c, nil
}

// Send connects, executes cmd and closes, which flushes the frame.
func Send(ctx context.Context, opts Options, cmd command.Command) error {
	c, err := Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	r, err := c.Execute(cmd)
	if err != nil {
		return err
	}
	PrintSent(opts.CommandRoute, r)
	return nil
}

func PrintSent(route string, r command.Remote) {
	color.Green("✅ sent on %s", route)
	fmt.Printf("   %s: %v\n", r.Kind, r.Data)
}

// PrintPose prints one odometry line
func PrintPose(pose telemetry.Odometry) {
	color.Cyan("[%s] x=%8.1f  y=%8.1f  θ=%7.2f°",
		pose.ReceivedAt.Format("15:04:05.000"), pose.X, pose.Y, pose.ThetaDegrees())
}

func PrintState(route string, state wsmux.State, err error) {
	switch state {
	case wsmux.StateOpen:
		color.Green("🔌 %s open", route)
	case wsmux.StateClosedError:
		color.Red("❌ %s failed: %v", route, err)
	case wsmux.StateClosed:
		color.Yellow("🔔 %s closed", route)
	default:
		color.HiBlack("%s %s", route, state)
	}
}

// WatchOdometry prints every pose received on route until ctx ends or the
// route fails for good. Poses are also handed to sink when it is set.
func WatchOdometry(ctx context.Context, endpoint wsmux.Endpoint, route string, sink telemetry.Sink, verbose bool) error {
	log := logger(verbose)
	failed := make(chan error, 1)
	m := wsmux.NewManager(endpoint,
		wsmux.WithLogger(log),
		wsmux.WithStateHook(func(route string, state wsmux.State, err error) {
			PrintState(route, state, err)
			if state == wsmux.StateClosedError {
				select {
				case failed <- err:
				default:
				}
			}
		}),
	)
	defer m.Close()

	if _, err := m.AddChannel(route); err != nil {
		return err
	}
	tracker := telemetry.NewTracker(route, telemetry.WithSink(sink), telemetry.WithTrackerLogger(log))
	defer tracker.Close()
	err := m.AttachHandler(route, func(env *envelope.Envelope) {
		before, _ := tracker.Counts()
		tracker.Handle(env)
		if after, _ := tracker.Counts(); after > before {
			pose, _ := tracker.Latest()
			PrintPose(pose)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("👀 watching %s (Ctrl+C to stop)\n", endpoint.Address(route))
	select {
	case <-ctx.Done():
		received, rejected := tracker.Counts()
		fmt.Printf("\n%d poses received, %d rejected\n", received, rejected)
		return nil
	case err := <-failed:
		return err
	}
}
