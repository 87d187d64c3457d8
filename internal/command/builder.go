package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Format selects how commands are encoded for the robot.
type Format int

const (
	// FormatExpression sends every command as an "eval" expression.
	FormatExpression Format = iota
	// FormatStructured uses the robot's named kinds where one exists and
	// falls back to an expression otherwise.
	FormatStructured
)

func (f Format) String() string {
	switch f {
	case FormatExpression:
		return "expression"
	case FormatStructured:
		return "structured"
	default:
		return "Format(" + strconv.Itoa(int(f)) + ")"
	}
}

// ParseFormat accepts "expression" (or "eval") and "structured".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "expression", "eval":
		return FormatExpression, nil
	case "structured":
		return FormatStructured, nil
	}
	return FormatExpression, fmt.Errorf("unknown wire format %q", s)
}

// Builder validates commands and encodes them in its Format.
type Builder struct {
	Format Format
}

func NewBuilder(format Format) *Builder {
	return &Builder{Format: format}
}

// Build validates cmd and returns the message to send on the command route.
// Identical input always produces an identical Remote.
func (b *Builder) Build(cmd Command) (Remote, error) {
	if cmd == nil {
		return Remote{}, invalid("command", "command", nil, "missing")
	}
	if err := cmd.Validate(); err != nil {
		return Remote{}, err
	}
	if z, ok := cmd.(SelectZone); ok {
		return Remote{Kind: KindZone, Data: z.Index}, nil
	}
	if b != nil && b.Format == FormatStructured {
		if r, ok := structured(cmd); ok {
			return r, nil
		}
	}
	expr, err := expression(cmd)
	if err != nil {
		return Remote{}, err
	}
	return Remote{Kind: KindEval, Data: expr}, nil
}

// Batch packs several commands into one eval message carrying a list of
// expressions, which the robot evaluates in order.
func (b *Builder) Batch(cmds ...Command) (Remote, error) {
	if len(cmds) == 0 {
		return Remote{}, invalid("batch", "commands", 0, "empty")
	}
	exprs := make([]string, 0, len(cmds))
	for i, cmd := range cmds {
		if cmd == nil {
			return Remote{}, invalid("batch", "commands["+strconv.Itoa(i)+"]", nil, "missing")
		}
		if err := cmd.Validate(); err != nil {
			return Remote{}, err
		}
		expr, err := expression(cmd)
		if err != nil {
			return Remote{}, err
		}
		exprs = append(exprs, expr)
	}
	return Remote{Kind: KindEval, Data: exprs}, nil
}

// Expression returns the evaluable form of cmd.
func Expression(cmd Command) (string, error) {
	if cmd == nil {
		return "", invalid("command", "command", nil, "missing")
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	return expression(cmd)
}

func expression(cmd Command) (string, error) {
	switch c := cmd.(type) {
	case MoveRelative:
		return fmt.Sprintf("self.rolling_basis.go_to_relative(Point(%s, %s))",
			formatNumber(c.DX), formatNumber(c.DY)), nil
	case MoveTo:
		p := c.Profile
		return fmt.Sprintf("self.rolling_basis.go_to(Point(%s, %s), is_forward=%s, "+
			"max_speed=%s, next_position_delay=%s, action_error_auth=%s, traj_precision=%s, "+
			"correction_trajectory_speed=%s, acceleration_start_speed=%s, acceleration_distance=%s, "+
			"deceleration_end_speed=%s, deceleration_distance=%s)",
			formatNumber(c.X), formatNumber(c.Y), pyBool(c.Forward),
			formatNumber(p.MaxSpeed), formatNumber(p.NextPositionDelay),
			formatNumber(p.ActionErrorAuth), formatNumber(p.TrajPrecision),
			formatNumber(p.CorrectionTrajectorySpeed), formatNumber(p.AccelerationStartSpeed),
			formatNumber(p.AccelerationDistance), formatNumber(p.DecelerationEndSpeed),
			formatNumber(p.DecelerationDistance)), nil
	case Stop:
		return "self.rolling_basis.stop_and_clear_queue()", nil
	case ResetOdometry:
		return "self.rolling_basis.reset_odo()", nil
	case SetPid:
		return fmt.Sprintf("self.rolling_basis.set_pid(%s, %s, %s)",
			formatNumber(c.Kp), formatNumber(c.Ki), formatNumber(c.Kd)), nil
	case SetEndEffector:
		if c.State == GripperClosed {
			return "self.close_god_hand()", nil
		}
		return "self.open_god_hand()", nil
	}
	return "", invalid(cmd.name(), "command", cmd.name(), "has no expression form")
}

// structured maps cmd to one of the robot's dispatch kinds. The go_to kind
// always drives forward, so backward moves stay expressions.
func structured(cmd Command) (Remote, bool) {
	switch c := cmd.(type) {
	case MoveTo:
		if !c.Forward {
			return Remote{}, false
		}
		p := c.Profile
		return Remote{Kind: KindGoTo, Data: []float64{
			c.X, c.Y,
			p.MaxSpeed, p.NextPositionDelay, p.ActionErrorAuth, p.TrajPrecision,
			p.CorrectionTrajectorySpeed, p.AccelerationStartSpeed, p.AccelerationDistance,
			p.DecelerationEndSpeed, p.DecelerationDistance,
		}}, true
	case SetPid:
		return Remote{Kind: KindSetPid, Data: []float64{c.Kp, c.Ki, c.Kd}}, true
	case Stop:
		return Remote{Kind: KindKeepPosition}, true
	}
	return Remote{}, false
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

var defaultBuilder = &Builder{Format: FormatExpression}

func BuildMoveRelative(dx, dy float64) (Remote, error) {
	return defaultBuilder.Build(MoveRelative{DX: dx, DY: dy})
}

func BuildMoveTo(x, y float64, forward bool, profile MotionProfile) (Remote, error) {
	return defaultBuilder.Build(MoveTo{X: x, Y: y, Forward: forward, Profile: profile})
}

func BuildStop() (Remote, error) {
	return defaultBuilder.Build(Stop{})
}

func BuildResetOdometry() (Remote, error) {
	return defaultBuilder.Build(ResetOdometry{})
}

func BuildSetPid(kp, ki, kd float64) (Remote, error) {
	return defaultBuilder.Build(SetPid{Kp: kp, Ki: ki, Kd: kd})
}

func BuildEndEffector(state GripperState) (Remote, error) {
	return defaultBuilder.Build(SetEndEffector{State: state})
}

func BuildSelectZone(team Team, zone int) (Remote, error) {
	idx, err := ZoneIndex(team, zone)
	if err != nil {
		return Remote{}, err
	}
	return defaultBuilder.Build(SelectZone{Index: idx})
}
