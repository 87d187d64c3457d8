package robotsim

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/console"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietRobot() *Robot {
	return NewRobot(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func frame(t *testing.T, kind string, data any) []byte {
	t.Helper()
	b, err := envelope.Encode("tester", kind, data)
	require.NoError(t, err)
	return b
}

func build(t *testing.T, format command.Format, cmd command.Command) []byte {
	t.Helper()
	r, err := command.NewBuilder(format).Build(cmd)
	require.NoError(t, err)
	return frame(t, r.Kind, r.Data)
}

func TestRobot_AppliesExpressions(t *testing.T) {
	r := quietRobot()

	r.Receive("cmd", build(t, command.FormatExpression, command.MoveRelative{DX: 50, DY: -20}))
	assert.Equal(t, Pose{X: 50, Y: -20}, r.Pose())

	r.Receive("cmd", build(t, command.FormatExpression, command.MoveTo{X: 50, Y: 100, Forward: true, Profile: command.DefaultMotionProfile()}))
	p := r.Pose()
	assert.Equal(t, 50.0, p.X)
	assert.Equal(t, 100.0, p.Y)
	assert.InDelta(t, math.Pi/2, p.Theta, 1e-9)

	r.Receive("cmd", build(t, command.FormatExpression, command.SetPid{Kp: 1.5, Ki: 0, Kd: 0.25}))
	assert.Equal(t, [3]float64{1.5, 0, 0.25}, r.Pid())

	r.Receive("cmd", build(t, command.FormatExpression, command.SetEndEffector{State: command.GripperClosed}))
	assert.Equal(t, command.GripperClosed, r.Gripper())

	r.Receive("cmd", build(t, command.FormatExpression, command.ResetOdometry{}))
	assert.Equal(t, Pose{}, r.Pose())

	for _, rec := range r.History() {
		assert.Empty(t, rec.Error, rec.Action)
		assert.Equal(t, "tester", rec.Sender)
	}
	assert.Len(t, r.History(), 5)
}

func TestRobot_BackwardMoveFacesAway(t *testing.T) {
	r := quietRobot()
	r.Receive("cmd", build(t, command.FormatStructured, command.MoveTo{X: -10, Y: 0, Forward: false, Profile: command.DefaultMotionProfile()}))
	p := r.Pose()
	assert.Equal(t, -10.0, p.X)
	assert.InDelta(t, 0, p.Theta, 1e-9)
}

func TestRobot_AppliesStructuredKinds(t *testing.T) {
	r := quietRobot()

	r.Receive("cmd", build(t, command.FormatStructured, command.MoveTo{X: 1000, Y: 0, Forward: true, Profile: command.DefaultMotionProfile()}))
	assert.Equal(t, Pose{X: 1000}, r.Pose())

	r.Receive("cmd", build(t, command.FormatStructured, command.SetPid{Kp: 2, Ki: 0.1, Kd: 0}))
	assert.Equal(t, [3]float64{2, 0.1, 0}, r.Pid())

	r.Receive("cmd", build(t, command.FormatStructured, command.Stop{}))

	zone, err := command.BuildSelectZone(command.TeamYellow, 1)
	require.NoError(t, err)
	r.Receive("cmd", frame(t, zone.Kind, zone.Data))
	assert.Equal(t, 4, r.Zone())

	h := r.History()
	require.Len(t, h, 4)
	assert.Equal(t, command.KindGoTo, h[0].Kind)
	assert.Equal(t, command.KindKeepPosition, h[2].Kind)
	assert.Equal(t, "zone 4", h[3].Action)
}

func TestRobot_Batch(t *testing.T) {
	r := quietRobot()
	batch, err := command.NewBuilder(command.FormatExpression).Batch(
		command.MoveRelative{DX: 10, DY: 0},
		command.MoveRelative{DX: 10, DY: 5},
		command.SetEndEffector{State: command.GripperClosed},
	)
	require.NoError(t, err)

	r.Receive("cmd", frame(t, batch.Kind, batch.Data))
	assert.Equal(t, Pose{X: 20, Y: 5}, r.Pose())
	assert.Equal(t, command.GripperClosed, r.Gripper())
	assert.Len(t, r.History(), 3)
}

func TestRobot_RejectsUnknownInput(t *testing.T) {
	r := quietRobot()

	r.Receive("cmd", frame(t, "eval", "os.system('rm -rf /')"))
	r.Receive("cmd", frame(t, "dance", nil))
	r.Receive("cmd", frame(t, "zone", 9))
	r.Receive("cmd", frame(t, "go_to", []float64{1, 2}))
	r.Receive("cmd", []byte("{not json"))
	r.Receive("odometer", frame(t, "eval", "self.rolling_basis.reset_odo()"))

	h := r.History()
	require.Len(t, h, 4)
	for _, rec := range h {
		assert.NotEmpty(t, rec.Error)
	}
	assert.Contains(t, h[0].Error, "unsupported command")
	assert.Equal(t, -1, r.Zone())
	assert.Equal(t, Pose{}, r.Pose())
}

func startSim(t testing.TB, r *Robot) (host string, port int) {
	t.Helper()
	srv := httptest.NewServer(NewRouter(r))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	h, p, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func TestWSHandler_RequiresSender(t *testing.T) {
	host, port := startSim(t, quietRobot())

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+net.JoinHostPort(host, strconv.Itoa(port))+"/cmd", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestWSHandler_StreamsOdometry(t *testing.T) {
	r := quietRobot()
	host, port := startSim(t, r)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+net.JoinHostPort(host, strconv.Itoa(port))+"/odometer?sender=viewer", nil)
	require.NoError(t, err)
	defer conn.Close()

	r.Receive("cmd", build(t, command.FormatExpression, command.MoveRelative{DX: 3, DY: 4}))
	require.Eventually(t, func() bool { return r.Room("odometer").ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	n, err := r.PublishOdometry()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := envelope.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "robot", env.Sender)
	pose, err := telemetry.ParseOdometry(env)
	require.NoError(t, err)
	assert.Equal(t, 3.0, pose.X)
	assert.Equal(t, 4.0, pose.Y)
}

// The console drives the simulator over real websockets.
func TestConsoleAgainstSimulator(t *testing.T) {
	r := quietRobot()
	host, port := startSim(t, r)

	m := wsmux.NewManager(wsmux.Endpoint{Host: host, Port: port, Sender: "pit-laptop"},
		wsmux.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	con, err := console.New(m, console.Config{
		CommandRoute:   "cmd",
		TelemetryRoute: "odometer",
		Format:         command.FormatStructured,
	})
	require.NoError(t, err)
	defer con.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, con.WaitReady(ctx))

	_, err = con.Execute(command.MoveTo{X: 1200, Y: 300, Forward: true, Profile: command.DefaultMotionProfile()})
	require.NoError(t, err)
	_, err = con.ToggleGripper()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Pose().X == 1200 && r.Gripper() == command.GripperClosed
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, _ = r.PublishOdometry()
		pose, ok := con.Odometry()
		return ok && pose.X == 1200 && pose.Y == 300
	}, 2*time.Second, 20*time.Millisecond)

	for _, rec := range r.History() {
		assert.Equal(t, "pit-laptop", rec.Sender)
	}
}
