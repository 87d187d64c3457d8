package api

import (
	"time"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/console"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
)

// MoveRelativeRequest for POST /api/v1/commands/move-relative
type MoveRelativeRequest struct {
	DX *float64 `json:"dx" binding:"required"`
	DY *float64 `json:"dy" binding:"required"`
}

// JogRequest for POST /api/v1/commands/jog
type JogRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// MotionProfileDTO overrides the default profile field by field
type MotionProfileDTO struct {
	MaxSpeed                  *float64 `json:"max_speed"`
	NextPositionDelay         *float64 `json:"next_position_delay"`
	ActionErrorAuth           *float64 `json:"action_error_auth"`
	TrajPrecision             *float64 `json:"traj_precision"`
	CorrectionTrajectorySpeed *float64 `json:"correction_trajectory_speed"`
	AccelerationStartSpeed    *float64 `json:"acceleration_start_speed"`
	AccelerationDistance      *float64 `json:"acceleration_distance"`
	DecelerationEndSpeed      *float64 `json:"deceleration_end_speed"`
	DecelerationDistance      *float64 `json:"deceleration_distance"`
}

// MoveToRequest for POST /api/v1/commands/move-to
type MoveToRequest struct {
	X       *float64          `json:"x" binding:"required"`
	Y       *float64          `json:"y" binding:"required"`
	Forward *bool             `json:"forward"`
	Profile *MotionProfileDTO `json:"profile"`
}

// PidRequest for POST /api/v1/commands/pid
type PidRequest struct {
	Kp *float64 `json:"kp" binding:"required"`
	Ki *float64 `json:"ki" binding:"required"`
	Kd *float64 `json:"kd" binding:"required"`
}

// GripperRequest for POST /api/v1/commands/gripper
type GripperRequest struct {
	State string `json:"state" binding:"required,oneof=open closed"`
}

// ZoneRequest for POST /api/v1/commands/zone
type ZoneRequest struct {
	Team string `json:"team" binding:"required,oneof=blue yellow"`
	Zone *int   `json:"zone" binding:"required"`
}

// CommandResponse echoes what was put on the wire
type CommandResponse struct {
	Route string `json:"route"`
	Kind  string `json:"kind"`
	Data  any    `json:"data,omitempty"`
}

// GripperResponse reports the gripper state after a command
type GripperResponse struct {
	State string `json:"state"`
}

// ChannelsResponse for GET /api/v1/channels
type ChannelsResponse struct {
	Channels []console.ChannelStatus `json:"channels"`
}

// OdometryResponse for GET /api/v1/odometry
type OdometryResponse struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Theta      float64   `json:"theta"`
	ThetaDeg   float64   `json:"theta_deg"`
	ReceivedAt time.Time `json:"received_at"`
	AgeMillis  int64     `json:"age_ms"`
}

// ToMoveTo fills the profile from the defaults and the overrides
func (r *MoveToRequest) ToMoveTo() command.MoveTo {
	p := command.DefaultMotionProfile()
	if o := r.Profile; o != nil {
		override(&p.MaxSpeed, o.MaxSpeed)
		override(&p.NextPositionDelay, o.NextPositionDelay)
		override(&p.ActionErrorAuth, o.ActionErrorAuth)
		override(&p.TrajPrecision, o.TrajPrecision)
		override(&p.CorrectionTrajectorySpeed, o.CorrectionTrajectorySpeed)
		override(&p.AccelerationStartSpeed, o.AccelerationStartSpeed)
		override(&p.AccelerationDistance, o.AccelerationDistance)
		override(&p.DecelerationEndSpeed, o.DecelerationEndSpeed)
		override(&p.DecelerationDistance, o.DecelerationDistance)
	}
	forward := true
	if r.Forward != nil {
		forward = *r.Forward
	}
	return command.MoveTo{X: *r.X, Y: *r.Y, Forward: forward, Profile: p}
}

func override(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// FromOdometry converts a tracked pose
func FromOdometry(pose telemetry.Odometry, now time.Time) *OdometryResponse {
	return &OdometryResponse{
		X:          pose.X,
		Y:          pose.Y,
		Theta:      pose.Theta,
		ThetaDeg:   pose.ThetaDegrees(),
		ReceivedAt: pose.ReceivedAt,
		AgeMillis:  now.Sub(pose.ReceivedAt).Milliseconds(),
	}
}
