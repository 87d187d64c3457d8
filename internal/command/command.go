// Package command turns operator intents into the (kind, payload) pairs the
// robot understands: evaluable expressions on the "eval" kind, or the
// structured kinds its dispatch table handles directly.
package command

import (
	"math"
)

// Message kinds understood by the robot.
const (
	KindEval         = "eval"
	KindZone         = "zone"
	KindGoTo         = "go_to"
	KindSetPid       = "set_pid"
	KindKeepPosition = "keep_current_position"
)

// Remote is a message ready to be handed to a channel's Send.
type Remote struct {
	Kind string
	Data any
}

// Command is one operator intent. The set of implementations is closed.
type Command interface {
	Validate() error
	name() string
}

// MoveRelative moves the base by (DX, DY) from its current pose.
type MoveRelative struct {
	DX, DY float64
}

func (MoveRelative) name() string { return "move_relative" }

func (c MoveRelative) Validate() error {
	if err := finite(c.name(), "dx", c.DX); err != nil {
		return err
	}
	return finite(c.name(), "dy", c.DY)
}

// MotionProfile holds the tuning parameters of an absolute move. Speeds are
// sent to the base as single bytes, delays and tolerances as 16-bit words.
type MotionProfile struct {
	MaxSpeed                  float64
	NextPositionDelay         float64
	ActionErrorAuth           float64
	TrajPrecision             float64
	CorrectionTrajectorySpeed float64
	AccelerationStartSpeed    float64
	AccelerationDistance      float64
	DecelerationEndSpeed      float64
	DecelerationDistance      float64
}

// DefaultMotionProfile returns the base's own defaults.
func DefaultMotionProfile() MotionProfile {
	return MotionProfile{
		MaxSpeed:                  150,
		NextPositionDelay:         100,
		ActionErrorAuth:           50,
		TrajPrecision:             50,
		CorrectionTrajectorySpeed: 80,
		AccelerationStartSpeed:    80,
		AccelerationDistance:      10,
		DecelerationEndSpeed:      80,
		DecelerationDistance:      10,
	}
}

func (p MotionProfile) validate(cmd string) error {
	checks := []struct {
		field string
		value float64
		limit float64
	}{
		{"max_speed", p.MaxSpeed, math.MaxUint8},
		{"next_position_delay", p.NextPositionDelay, math.MaxUint16},
		{"action_error_auth", p.ActionErrorAuth, math.MaxUint16},
		{"traj_precision", p.TrajPrecision, math.MaxUint16},
		{"correction_trajectory_speed", p.CorrectionTrajectorySpeed, math.MaxUint8},
		{"acceleration_start_speed", p.AccelerationStartSpeed, math.MaxUint8},
		{"deceleration_end_speed", p.DecelerationEndSpeed, math.MaxUint8},
	}
	for _, c := range checks {
		if err := wholeInRange(cmd, c.field, c.value, c.limit); err != nil {
			return err
		}
	}
	if err := nonNegative(cmd, "acceleration_distance", p.AccelerationDistance); err != nil {
		return err
	}
	return nonNegative(cmd, "deceleration_distance", p.DecelerationDistance)
}

// MoveTo drives the base to the absolute point (X, Y).
type MoveTo struct {
	X, Y    float64
	Forward bool
	Profile MotionProfile
}

func (MoveTo) name() string { return "move_to" }

func (c MoveTo) Validate() error {
	if err := finite(c.name(), "x", c.X); err != nil {
		return err
	}
	if err := finite(c.name(), "y", c.Y); err != nil {
		return err
	}
	return c.Profile.validate(c.name())
}

// Stop halts the base and drops its queued moves.
type Stop struct{}

func (Stop) name() string    { return "stop" }
func (Stop) Validate() error { return nil }

// ResetOdometry zeroes the base's pose estimate.
type ResetOdometry struct{}

func (ResetOdometry) name() string    { return "reset_odometry" }
func (ResetOdometry) Validate() error { return nil }

type SetPid struct {
	Kp, Ki, Kd float64
}

func (SetPid) name() string { return "set_pid" }

func (c SetPid) Validate() error {
	for _, g := range []struct {
		field string
		value float64
	}{{"kp", c.Kp}, {"ki", c.Ki}, {"kd", c.Kd}} {
		if err := finite(c.name(), g.field, g.value); err != nil {
			return err
		}
	}
	return nil
}

// GripperState is the position of the end effector.
type GripperState bool

const (
	GripperOpen   GripperState = false
	GripperClosed GripperState = true
)

func (s GripperState) String() string {
	if s == GripperClosed {
		return "closed"
	}
	return "open"
}

// SetEndEffector opens or closes the gripper.
type SetEndEffector struct {
	State GripperState
}

func (SetEndEffector) name() string    { return "end_effector" }
func (SetEndEffector) Validate() error { return nil }

// SelectZone picks the starting zone, as returned by ZoneIndex.
type SelectZone struct {
	Index int
}

func (SelectZone) name() string { return "select_zone" }

func (c SelectZone) Validate() error {
	if c.Index < 0 || c.Index >= ZoneCount {
		return invalid(c.name(), "zone", c.Index, "out of range")
	}
	return nil
}

func finite(cmd, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(cmd, field, v, "not a finite number")
	}
	return nil
}

func nonNegative(cmd, field string, v float64) error {
	if err := finite(cmd, field, v); err != nil {
		return err
	}
	if v < 0 {
		return invalid(cmd, field, v, "must not be negative")
	}
	return nil
}

func wholeInRange(cmd, field string, v, limit float64) error {
	if err := nonNegative(cmd, field, v); err != nil {
		return err
	}
	if v != math.Trunc(v) || v > limit {
		return invalid(cmd, field, v, "must be a whole number in 0.."+formatNumber(limit))
	}
	return nil
}
