package wsmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

// ChannelSuite runs channels against a real websocket server.
type ChannelSuite struct {
	suite.Suite
	robot    *robotServer
	recorder *stateRecorder
	manager  *Manager
}

func TestChannelSuite(t *testing.T) {
	suite.Run(t, new(ChannelSuite))
}

func (s *ChannelSuite) SetupTest() {
	s.robot = newRobotServer(s.T())
	s.recorder = &stateRecorder{}
	s.manager = s.newManager()
}

func (s *ChannelSuite) TearDownTest() {
	s.manager.Close()
}

func (s *ChannelSuite) newManager(opts ...Option) *Manager {
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return fixedNow }),
		WithKeepalive(0, 0, time.Second),
		WithStateHook(s.recorder.hook),
	}
	return NewManager(s.robot.endpoint(s.T()), append(base, opts...)...)
}

func (s *ChannelSuite) openChannel(route string) (*Channel, *websocket.Conn) {
	t := s.T()
	ch, err := s.manager.AddChannel(route)
	require.NoError(t, err)
	conn := s.robot.nextConn(t)
	waitOpen(t, ch)
	return ch, conn
}

func (s *ChannelSuite) TestSendFramesEnvelope() {
	t := s.T()
	ch, _ := s.openChannel("cmd")
	assert.Equal(t, StateOpen, ch.State())
	assert.NoError(t, ch.Err())

	require.NoError(t, s.manager.Send("cmd", "eval", "self.rolling_basis.reset_odo()"))

	f := s.robot.nextFrame(t)
	assert.Equal(t, "/cmd", f.path)
	assert.Equal(t, "WebUI", f.sender)
	assert.JSONEq(t,
		`{"usr":"WebUI","msg":"eval","data":"self.rolling_basis.reset_odo()","ts":1700000000000}`,
		string(f.data))
}

func (s *ChannelSuite) TestSendPreservesOrder() {
	t := s.T()
	s.openChannel("cmd")

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, s.manager.Send("cmd", "zone", i))
	}
	for i := 0; i < n; i++ {
		env, err := envelope.Decode(s.robot.nextFrame(t).data)
		require.NoError(t, err)
		var got int
		require.NoError(t, env.DecodeData(&got))
		assert.Equal(t, i, got)
	}
}

func (s *ChannelSuite) TestChannelsAreIndependent() {
	t := s.T()
	s.openChannel("cmd")
	_, odoConn := s.openChannel("odometer")

	odoConn.Close()
	require.Eventually(t, func() bool {
		return s.manager.States()["odometer"] == StateClosedError
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, StateOpen, s.manager.States()["cmd"])
	require.NoError(t, s.manager.Send("cmd", "zone", 2))
	assert.Equal(t, "/cmd", s.robot.nextFrame(t).path)
	assert.ErrorIs(t, s.manager.Send("odometer", "zone", 2), ErrNotConnected)
}

func (s *ChannelSuite) TestHandlerReceivesBareAndEnvelopedTelemetry() {
	t := s.T()
	_, conn := s.openChannel("odometer")

	received := make(chan *envelope.Envelope, 4)
	require.NoError(t, s.manager.AttachHandler("odometer", func(env *envelope.Envelope) {
		received <- env
	}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[10.5, 20, 1.57]`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"usr":"server","msg":"odometer","data":[11,21,0],"ts":5}`)))

	for _, want := range [][]float64{{10.5, 20, 1.57}, {11, 21, 0}} {
		select {
		case env := <-received:
			var pose []float64
			require.NoError(t, env.DecodeData(&pose))
			assert.Equal(t, want, pose)
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}

func (s *ChannelSuite) TestSetHandlerReplaces() {
	t := s.T()
	ch, conn := s.openChannel("odometer")

	var first, second atomic.Int32
	ch.SetHandler(func(*envelope.Envelope) { first.Add(1) })
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`1`)))
	require.Eventually(t, func() bool { return first.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ch.SetHandler(func(*envelope.Envelope) { second.Add(1) })
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`2`)))
	require.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), first.Load())
}

func (s *ChannelSuite) TestDecodeErrorKeepsChannelOpen() {
	t := s.T()
	ch, conn := s.openChannel("odometer")

	received := make(chan *envelope.Envelope, 1)
	ch.SetHandler(func(env *envelope.Envelope) { received <- env })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"usr":`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"msg":"odometer","data":[1,2,3]}`)))

	select {
	case env := <-received:
		assert.Equal(t, "odometer", env.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after a malformed one was not delivered")
	}
	assert.Equal(t, StateOpen, ch.State())
}

func (s *ChannelSuite) TestHandlerPanicIsContained() {
	t := s.T()
	ch, conn := s.openChannel("odometer")

	var calls atomic.Int32
	ch.SetHandler(func(*envelope.Envelope) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`1`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`2`)))

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateOpen, ch.State())
}

func (s *ChannelSuite) TestTransportFailureIsObservable() {
	t := s.T()
	ch, conn := s.openChannel("cmd")

	conn.Close()
	require.Eventually(t, func() bool { return ch.State() == StateClosedError }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, ch.Err(), ErrTransport)
	var failure *TransportFailure
	require.ErrorAs(t, ch.Err(), &failure)
	assert.Equal(t, "cmd", failure.Route)

	require.Eventually(t, func() bool { return s.recorder.seen(StateClosedError) }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.recorder.lastErr(), ErrTransport)

	assert.ErrorIs(t, ch.Send("eval", "self.rolling_basis.reset_odo()"), ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, ch.WaitOpen(ctx), ErrTransport)

	// no reconnect policy: the channel stays failed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosedError, ch.State())
	assert.Equal(t, int32(1), s.robot.accepts.Load())
}

func (s *ChannelSuite) TestReconnectWithPolicy() {
	t := s.T()
	s.manager.Close()
	s.manager = s.newManager(WithReconnectPolicy(ReconnectPolicy{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
	}))

	ch, conn := s.openChannel("cmd")
	conn.Close()

	s.robot.nextConn(t)
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.recorder.seen(StateClosedError))
	assert.NoError(t, ch.Err())
	assert.Equal(t, int32(2), s.robot.accepts.Load())

	require.NoError(t, ch.Send("zone", 1))
	assert.Equal(t, "/cmd", s.robot.nextFrame(t).path)
}

func (s *ChannelSuite) TestCloseFlushesQueuedFrames() {
	t := s.T()
	ch, _ := s.openChannel("cmd")

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send("eval", fmt.Sprintf("frame-%d", i)))
	}
	require.NoError(t, ch.Close())

	for i := 0; i < 5; i++ {
		env, err := envelope.Decode(s.robot.nextFrame(t).data)
		require.NoError(t, err)
		var got string
		require.NoError(t, env.DecodeData(&got))
		assert.Equal(t, fmt.Sprintf("frame-%d", i), got)
	}

	assert.Equal(t, StateClosed, ch.State())
	assert.ErrorIs(t, ch.Send("eval", "late"), ErrNotConnected)
	assert.ErrorIs(t, ch.WaitOpen(context.Background()), ErrChannelClosed)
	assert.NoError(t, ch.Close())
}

func (s *ChannelSuite) TestSendRacingCloseNeverLosesAcceptedFrames() {
	t := s.T()
	for round := 0; round < 20; round++ {
		ch, _ := s.openChannel(fmt.Sprintf("race%d", round))

		var accepted atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				err := ch.Send("eval", i)
				if err == nil {
					accepted.Add(1)
					continue
				}
				if errors.Is(err, ErrNotConnected) {
					return
				}
			}
		}()
		time.Sleep(time.Duration(round%5) * 100 * time.Microsecond)
		require.NoError(t, ch.Close())
		wg.Wait()

		for i := int32(0); i < accepted.Load(); i++ {
			s.robot.nextFrame(t)
		}
		assert.ErrorIs(t, ch.Send("eval", "late"), ErrNotConnected)
	}
}

func (s *ChannelSuite) TestInboundLimitDropsExcessFrames() {
	t := s.T()
	s.manager.Close()
	s.manager = s.newManager(WithInboundLimit(0.001, 2))

	ch, conn := s.openChannel("odometer")
	var calls atomic.Int32
	ch.SetHandler(func(*envelope.Envelope) { calls.Add(1) })

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[0,0,0]`)))
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, StateOpen, ch.State())
}

func TestChannel_DialFailure(t *testing.T) {
	d := &failingDialer{}
	m := NewManager(Endpoint{Host: "rc.local", Port: 8080, Sender: "WebUI"},
		WithLogger(discardLogger()), WithDialer(d))
	t.Cleanup(func() { m.Close() })

	ch, err := m.AddChannel("cmd")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = ch.WaitOpen(ctx)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, StateClosedError, ch.State())
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestChannel_ReconnectExhausted(t *testing.T) {
	d := &failingDialer{}
	var mu sync.Mutex
	var failures int
	hook := func(_ string, s State, _ error) {
		if s == StateClosedError {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	}
	m := NewManager(Endpoint{Host: "rc.local", Port: 8080, Sender: "WebUI"},
		WithLogger(discardLogger()),
		WithDialer(d),
		WithStateHook(hook),
		WithReconnectPolicy(ReconnectPolicy{MaxAttempts: 2, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond}),
	)
	t.Cleanup(func() { m.Close() })

	ch, err := m.AddChannel("cmd")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, ch.WaitOpen(ctx), errRefused)

	// one initial dial plus MaxAttempts retries
	assert.Equal(t, int32(3), d.calls.Load())
	assert.Equal(t, StateClosedError, ch.State())
	mu.Lock()
	assert.Equal(t, 3, failures)
	mu.Unlock()
}

func TestChannel_CloseWhileConnecting(t *testing.T) {
	d := &blockingDialer{}
	m := NewManager(Endpoint{Host: "rc.local", Port: 8080, Sender: "WebUI"},
		WithLogger(discardLogger()), WithDialer(d))

	ch, err := m.AddChannel("cmd")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.NoError(t, ch.Err())
	require.NoError(t, m.Close())
}
