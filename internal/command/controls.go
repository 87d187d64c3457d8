package command

import (
	"fmt"
	"strings"
	"sync"
)

// GripperToggle tracks the gripper position for a single toggle control.
// The state is only what the console last asked for; the robot does not
// report it back.
type GripperToggle struct {
	mu    sync.Mutex
	state GripperState
}

func NewGripperToggle(initial GripperState) *GripperToggle {
	return &GripperToggle{state: initial}
}

// Toggle returns the command driving the gripper to the opposite state and
// records that state. Callers restore the previous state with Set when the
// send fails.
func (g *GripperToggle) Toggle() (SetEndEffector, GripperState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.state
	g.state = !prev
	return SetEndEffector{State: g.state}, prev
}

// Restore puts prev back only while the state is still the one a failed
// Toggle recorded, so a later successful toggle is not undone.
func (g *GripperToggle) Restore(toggled, prev GripperState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != toggled {
		return false
	}
	g.state = prev
	return true
}

func (g *GripperToggle) Set(state GripperState) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

func (g *GripperToggle) State() GripperState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Direction is a jog button of the directional pad.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

var jogSteps = map[Direction]MoveRelative{
	DirectionUp:    {DX: 50, DY: 0},
	DirectionDown:  {DX: -50, DY: 0},
	DirectionLeft:  {DX: 1, DY: -1},
	DirectionRight: {DX: 1, DY: 1},
}

// Jog returns the relative move bound to a directional pad button.
func Jog(dir Direction) (MoveRelative, error) {
	step, ok := jogSteps[Direction(strings.ToLower(string(dir)))]
	if !ok {
		return MoveRelative{}, invalid("jog", "direction", dir, fmt.Sprintf("must be one of %s, %s, %s, %s",
			DirectionUp, DirectionDown, DirectionLeft, DirectionRight))
	}
	return step, nil
}
