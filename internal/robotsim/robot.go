package robotsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

// Robot is an in-memory stand-in for the robot's websocket server. It applies
// the commands it receives to a simulated pose and streams that pose back.

const robotSender = "robot"

var ErrUnsupported = errors.New("unsupported command")

var (
	numberPattern = `(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`
	reRelative    = regexp.MustCompile(`^self\.rolling_basis\.go_to_relative\(Point\(` + numberPattern + `, ` + numberPattern + `\)\)$`)
	reGoTo        = regexp.MustCompile(`^self\.rolling_basis\.go_to\(Point\(` + numberPattern + `, ` + numberPattern + `\), is_forward=(True|False)\b`)
	rePid         = regexp.MustCompile(`^self\.rolling_basis\.set_pid\(` + numberPattern + `, ` + numberPattern + `, ` + numberPattern + `\)$`)
)

type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Record is one command as the robot understood it.
type Record struct {
	Sender string    `json:"sender"`
	Kind   string    `json:"kind"`
	Action string    `json:"action"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

type Config struct {
	CommandRoute   string
	TelemetryRoute string
	Interval       time.Duration // odometry period, zero means 100ms
	Logger         *slog.Logger
}

type Robot struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	pose    Pose
	gripper command.GripperState
	zone    int
	pid     [3]float64
	history []Record

	roomsMu sync.Mutex
	rooms   map[string]*Room
}

func NewRobot(cfg Config) *Robot {
	if cfg.CommandRoute == "" {
		cfg.CommandRoute = "cmd"
	}
	if cfg.TelemetryRoute == "" {
		cfg.TelemetryRoute = "odometer"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Robot{
		cfg:    cfg,
		logger: logger,
		zone:   -1,
		rooms:  make(map[string]*Room),
	}
}

// Room returns the room for route, creating it on first use.
func (r *Robot) Room(route string) *Room {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	room, ok := r.rooms[route]
	if !ok {
		room = NewRoom(route)
		r.rooms[route] = room
	}
	return room
}

// Receive applies a frame that arrived on route. Only the command route
// carries orders; anything else is logged and dropped.
func (r *Robot) Receive(route string, frame []byte) {
	if route != r.cfg.CommandRoute {
		r.logger.Debug("sim_frame_ignored", "route", route)
		return
	}
	env, err := envelope.Decode(frame)
	if err != nil {
		r.logger.Warn("sim_frame_malformed", "error", err)
		return
	}

	switch env.Kind {
	case command.KindEval:
		var single string
		if err := decodeExpression(env, &single); err == nil {
			r.eval(env.Sender, single)
			return
		}
		var batch []string
		if err := env.DecodeData(&batch); err != nil {
			r.record(env.Sender, env.Kind, "", err)
			return
		}
		for _, expr := range batch {
			r.eval(env.Sender, expr)
		}
	case command.KindGoTo:
		var values []float64
		if err := env.DecodeData(&values); err != nil || len(values) != 11 {
			r.record(env.Sender, env.Kind, "", fmt.Errorf("go_to expects 11 numbers"))
			return
		}
		r.moveTo(values[0], values[1], true)
		r.record(env.Sender, env.Kind, fmt.Sprintf("go_to %s %s", fmtNum(values[0]), fmtNum(values[1])), nil)
	case command.KindSetPid:
		var values []float64
		if err := env.DecodeData(&values); err != nil || len(values) != 3 {
			r.record(env.Sender, env.Kind, "", fmt.Errorf("set_pid expects 3 numbers"))
			return
		}
		r.setPid(values[0], values[1], values[2])
		r.record(env.Sender, env.Kind, "set_pid", nil)
	case command.KindKeepPosition:
		r.record(env.Sender, env.Kind, "stop", nil)
	case command.KindZone:
		var zone int
		if err := env.DecodeData(&zone); err != nil || zone < 0 || zone >= command.ZoneCount {
			r.record(env.Sender, env.Kind, "", fmt.Errorf("zone must be 0..%d", command.ZoneCount-1))
			return
		}
		r.mu.Lock()
		r.zone = zone
		r.mu.Unlock()
		r.record(env.Sender, env.Kind, "zone "+strconv.Itoa(zone), nil)
	default:
		r.record(env.Sender, env.Kind, "", fmt.Errorf("%w: kind %q", ErrUnsupported, env.Kind))
	}
}

func decodeExpression(env *envelope.Envelope, dst *string) error {
	if len(env.Data) == 0 || env.Data[0] != '"' {
		return ErrUnsupported
	}
	return env.DecodeData(dst)
}

func (r *Robot) eval(sender, expr string) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "self.rolling_basis.stop_and_clear_queue()":
		r.record(sender, command.KindEval, "stop", nil)
	case expr == "self.rolling_basis.reset_odo()":
		r.mu.Lock()
		r.pose = Pose{}
		r.mu.Unlock()
		r.record(sender, command.KindEval, "reset_odo", nil)
	case expr == "self.open_god_hand()":
		r.setGripper(command.GripperOpen)
		r.record(sender, command.KindEval, "gripper open", nil)
	case expr == "self.close_god_hand()":
		r.setGripper(command.GripperClosed)
		r.record(sender, command.KindEval, "gripper closed", nil)
	default:
		if m := reRelative.FindStringSubmatch(expr); m != nil {
			dx, dy := parseNum(m[1]), parseNum(m[2])
			r.mu.Lock()
			r.pose.X += dx
			r.pose.Y += dy
			r.mu.Unlock()
			r.record(sender, command.KindEval, fmt.Sprintf("go_to_relative %s %s", m[1], m[2]), nil)
			return
		}
		if m := reGoTo.FindStringSubmatch(expr); m != nil {
			r.moveTo(parseNum(m[1]), parseNum(m[2]), m[3] == "True")
			r.record(sender, command.KindEval, fmt.Sprintf("go_to %s %s", m[1], m[2]), nil)
			return
		}
		if m := rePid.FindStringSubmatch(expr); m != nil {
			r.setPid(parseNum(m[1]), parseNum(m[2]), parseNum(m[3]))
			r.record(sender, command.KindEval, "set_pid", nil)
			return
		}
		r.record(sender, command.KindEval, "", fmt.Errorf("%w: %q", ErrUnsupported, expr))
	}
}

// moveTo teleports to (x, y) facing the direction of travel.
func (r *Robot) moveTo(x, y float64, forward bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dx, dy := x-r.pose.X, y-r.pose.Y
	if dx != 0 || dy != 0 {
		theta := math.Atan2(dy, dx)
		if !forward {
			theta = math.Remainder(theta+math.Pi, 2*math.Pi)
		}
		r.pose.Theta = theta
	}
	r.pose.X, r.pose.Y = x, y
}

func (r *Robot) setPid(kp, ki, kd float64) {
	r.mu.Lock()
	r.pid = [3]float64{kp, ki, kd}
	r.mu.Unlock()
}

func (r *Robot) setGripper(s command.GripperState) {
	r.mu.Lock()
	r.gripper = s
	r.mu.Unlock()
}

func (r *Robot) record(sender, kind, action string, err error) {
	rec := Record{Sender: sender, Kind: kind, Action: action, At: time.Now()}
	if err != nil {
		rec.Error = err.Error()
		r.logger.Warn("sim_command_rejected", "sender", sender, "kind", kind, "error", err)
	} else {
		r.logger.Info("sim_command_applied", "sender", sender, "kind", kind, "action", action)
	}
	r.mu.Lock()
	r.history = append(r.history, rec)
	r.mu.Unlock()
}

// PublishOdometry broadcasts the current pose on the telemetry route and
// returns how many consoles it reached.
func (r *Robot) PublishOdometry() (int, error) {
	p := r.Pose()
	frame, err := envelope.Encode(robotSender, r.cfg.TelemetryRoute, []float64{p.X, p.Y, p.Theta})
	if err != nil {
		return 0, err
	}
	return r.Room(r.cfg.TelemetryRoute).Broadcast(frame), nil
}

// Run publishes odometry every interval until ctx is done.
func (r *Robot) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PublishOdometry(); err != nil {
				r.logger.Warn("sim_odometry_failed", "error", err)
			}
		}
	}
}

func (r *Robot) Pose() Pose {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pose
}

func (r *Robot) Gripper() command.GripperState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gripper
}

// Zone is -1 until a zone has been selected.
func (r *Robot) Zone() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.zone
}

func (r *Robot) Pid() [3]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pid
}

func (r *Robot) History() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.history))
	copy(out, r.history)
	return out
}

func parseNum(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
