package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/console"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

// ConsoleService is what the handlers need from the console
type ConsoleService interface {
	Execute(cmd command.Command) (command.Remote, error)
	ToggleGripper() (command.GripperState, error)
	SetGripper(state command.GripperState) error
	Channels() []console.ChannelStatus
	Odometry() (telemetry.Odometry, bool)
	Ready() bool
}

type CommandHandler struct {
	console ConsoleService
	route   string
	now     func() time.Time
}

func NewCommandHandler(svc ConsoleService, route string) *CommandHandler {
	return &CommandHandler{console: svc, route: route, now: time.Now}
}

// RegisterRoutes registers console routes under /api/v1
func (h *CommandHandler) RegisterRoutes(router *gin.RouterGroup) {
	commands := router.Group("/commands")
	{
		commands.POST("/move-relative", h.MoveRelative)
		commands.POST("/jog", h.Jog)
		commands.POST("/move-to", h.MoveTo)
		commands.POST("/stop", h.Stop)
		commands.POST("/reset-odometry", h.ResetOdometry)
		commands.POST("/pid", h.SetPid)
		commands.POST("/gripper", h.SetGripper)
		commands.POST("/gripper/toggle", h.ToggleGripper)
		commands.POST("/zone", h.SelectZone)
	}
	router.GET("/channels", h.Channels)
	router.GET("/odometry", h.Odometry)
}

// MoveRelative jogs the base by (dx, dy)
// POST /api/v1/commands/move-relative
func (h *CommandHandler) MoveRelative(c *gin.Context) {
	var req MoveRelativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.execute(c, command.MoveRelative{DX: *req.DX, DY: *req.DY})
}

// Jog sends the move bound to a directional pad button
// POST /api/v1/commands/jog
func (h *CommandHandler) Jog(c *gin.Context) {
	var req JogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	step, err := command.Jog(command.Direction(req.Direction))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.execute(c, step)
}

// MoveTo drives the base to an absolute point
// POST /api/v1/commands/move-to
func (h *CommandHandler) MoveTo(c *gin.Context) {
	var req MoveToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.execute(c, req.ToMoveTo())
}

// POST /api/v1/commands/stop
func (h *CommandHandler) Stop(c *gin.Context) {
	h.execute(c, command.Stop{})
}

// POST /api/v1/commands/reset-odometry
func (h *CommandHandler) ResetOdometry(c *gin.Context) {
	h.execute(c, command.ResetOdometry{})
}

// SetPid tunes the base controller
// POST /api/v1/commands/pid
func (h *CommandHandler) SetPid(c *gin.Context) {
	var req PidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.execute(c, command.SetPid{Kp: *req.Kp, Ki: *req.Ki, Kd: *req.Kd})
}

// SetGripper opens or closes the gripper explicitly
// POST /api/v1/commands/gripper
func (h *CommandHandler) SetGripper(c *gin.Context) {
	var req GripperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state := command.GripperOpen
	if req.State == "closed" {
		state = command.GripperClosed
	}
	if err := h.console.SetGripper(state); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, GripperResponse{State: state.String()})
}

// ToggleGripper flips the gripper
// POST /api/v1/commands/gripper/toggle
func (h *CommandHandler) ToggleGripper(c *gin.Context) {
	state, err := h.console.ToggleGripper()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, GripperResponse{State: state.String()})
}

// SelectZone picks the starting zone for a team
// POST /api/v1/commands/zone
func (h *CommandHandler) SelectZone(c *gin.Context) {
	var req ZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	team, err := command.ParseTeam(req.Team)
	if err != nil {
		h.fail(c, err)
		return
	}
	idx, err := command.ZoneIndex(team, *req.Zone)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.execute(c, command.SelectZone{Index: idx})
}

// Channels lists every route and its state
// GET /api/v1/channels
func (h *CommandHandler) Channels(c *gin.Context) {
	c.JSON(http.StatusOK, ChannelsResponse{Channels: h.console.Channels()})
}

// Odometry returns the latest pose
// GET /api/v1/odometry
func (h *CommandHandler) Odometry(c *gin.Context) {
	pose, ok := h.console.Odometry()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no odometry received yet"})
		return
	}
	c.JSON(http.StatusOK, FromOdometry(pose, h.now()))
}

// Health is OK while the command route is open
// GET /healthz
func (h *CommandHandler) Health(c *gin.Context) {
	if !h.console.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "channels": h.console.Channels()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CommandHandler) execute(c *gin.Context, cmd command.Command) {
	r, err := h.console.Execute(cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CommandResponse{Route: h.route, Kind: r.Kind, Data: r.Data})
}

func (h *CommandHandler) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, wsmux.ErrSendQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, wsmux.ErrNotConnected), errors.Is(err, wsmux.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
