// Package console ties the channel manager, the command builder and the
// telemetry tracker into the operations an operator performs.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

// ChannelStatus describes one registered route.
type ChannelStatus struct {
	Route string `json:"route"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Console sends operator commands on one route and follows telemetry on
// another.
type Console struct {
	manager        *wsmux.Manager
	builder        *command.Builder
	gripper        *command.GripperToggle
	gripperMu      sync.Mutex // serializes gripper commands with their state change
	tracker        *telemetry.Tracker
	commandRoute   string
	telemetryRoute string
	logger         *slog.Logger
}

type Config struct {
	CommandRoute   string
	TelemetryRoute string
	Format         command.Format
	Gripper        command.GripperState
	Sink           telemetry.Sink
	Logger         *slog.Logger
}

// New registers both routes on m and attaches the telemetry tracker. The
// routes start connecting in the background.
func New(m *wsmux.Manager, cfg Config) (*Console, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := m.AddChannel(cfg.CommandRoute); err != nil {
		return nil, fmt.Errorf("command route: %w", err)
	}
	c := &Console{
		manager:      m,
		builder:      command.NewBuilder(cfg.Format),
		gripper:      command.NewGripperToggle(cfg.Gripper),
		commandRoute: cfg.CommandRoute,
		logger:       logger,
	}
	if cfg.TelemetryRoute != "" {
		if _, err := m.AddChannel(cfg.TelemetryRoute); err != nil {
			return nil, fmt.Errorf("telemetry route: %w", err)
		}
		c.telemetryRoute = cfg.TelemetryRoute
		c.tracker = telemetry.NewTracker(cfg.TelemetryRoute,
			telemetry.WithSink(cfg.Sink),
			telemetry.WithTrackerLogger(logger),
		)
		if err := m.AttachHandler(cfg.TelemetryRoute, c.tracker.Handle); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Execute builds cmd and sends it on the command route.
func (c *Console) Execute(cmd command.Command) (command.Remote, error) {
	r, err := c.builder.Build(cmd)
	if err != nil {
		return command.Remote{}, err
	}
	if err := c.manager.Send(c.commandRoute, r.Kind, r.Data); err != nil {
		c.logger.Warn("command_send_failed", "route", c.commandRoute, "kind", r.Kind, "error", err)
		return command.Remote{}, err
	}
	c.logger.Info("command_sent", "route", c.commandRoute, "kind", r.Kind)
	return r, nil
}

// ExecuteBatch sends cmds as one list of expressions.
func (c *Console) ExecuteBatch(cmds ...command.Command) (command.Remote, error) {
	r, err := c.builder.Batch(cmds...)
	if err != nil {
		return command.Remote{}, err
	}
	if err := c.manager.Send(c.commandRoute, r.Kind, r.Data); err != nil {
		return command.Remote{}, err
	}
	c.logger.Info("command_sent", "route", c.commandRoute, "kind", r.Kind, "count", len(cmds))
	return r, nil
}

// ToggleGripper drives the gripper to the opposite of its last known state.
// The state is left unchanged when the command cannot be sent.
func (c *Console) ToggleGripper() (command.GripperState, error) {
	c.gripperMu.Lock()
	defer c.gripperMu.Unlock()
	cmd, prev := c.gripper.Toggle()
	if _, err := c.Execute(cmd); err != nil {
		c.gripper.Restore(cmd.State, prev)
		return prev, err
	}
	return cmd.State, nil
}

// SetGripper drives the gripper to state and records it.
func (c *Console) SetGripper(state command.GripperState) error {
	c.gripperMu.Lock()
	defer c.gripperMu.Unlock()
	if _, err := c.Execute(command.SetEndEffector{State: state}); err != nil {
		return err
	}
	c.gripper.Set(state)
	return nil
}

func (c *Console) GripperState() command.GripperState {
	return c.gripper.State()
}

// Channels reports every registered route.
func (c *Console) Channels() []ChannelStatus {
	routes := c.manager.Routes()
	out := make([]ChannelStatus, 0, len(routes))
	for _, route := range routes {
		ch, err := c.manager.Channel(route)
		if err != nil {
			continue
		}
		st := ChannelStatus{Route: route, State: ch.State().String()}
		if err := ch.Err(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Ready reports whether the command route is open.
func (c *Console) Ready() bool {
	ch, err := c.manager.Channel(c.commandRoute)
	return err == nil && ch.State() == wsmux.StateOpen
}

// WaitReady blocks until the command route is open.
func (c *Console) WaitReady(ctx context.Context) error {
	ch, err := c.manager.Channel(c.commandRoute)
	if err != nil {
		return err
	}
	return ch.WaitOpen(ctx)
}

// Odometry returns the latest pose received on the telemetry route.
func (c *Console) Odometry() (telemetry.Odometry, bool) {
	if c.tracker == nil {
		return telemetry.Odometry{}, false
	}
	return c.tracker.Latest()
}

// PoseAge is how long ago the latest pose arrived.
func (c *Console) PoseAge(now time.Time) (time.Duration, bool) {
	pose, ok := c.Odometry()
	if !ok {
		return 0, false
	}
	return now.Sub(pose.ReceivedAt), true
}

// Close closes every route, then flushes poses still waiting for the sink.
func (c *Console) Close() error {
	err := c.manager.Close()
	if c.tracker != nil {
		c.tracker.Close()
	}
	return err
}
