package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

func decode(t *testing.T, frame string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Decode([]byte(frame))
	require.NoError(t, err)
	return env
}

func TestParseOdometry(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Odometry
	}{
		{"bare numbers", `[1200.5, 800, 1.5707]`, Odometry{X: 1200.5, Y: 800, Theta: 1.5707}},
		{"envelope", `{"usr":"robot","msg":"odometer","data":[10,20,0],"ts":1}`, Odometry{X: 10, Y: 20}},
		{"data only", `{"data":[1,2,3]}`, Odometry{X: 1, Y: 2, Theta: 3}},
		{"numeric strings", `["12.5", " 40 ", "-3.14"]`, Odometry{X: 12.5, Y: 40, Theta: -3.14}},
		{"extra components", `[1, 2, 3, 99]`, Odometry{X: 1, Y: 2, Theta: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOdometry(decode(t, tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOdometry_Invalid(t *testing.T) {
	for _, frame := range []string{
		`[1, 2]`,
		`"x"`,
		`{"data":{"x":1}}`,
		`[1, "abc", 3]`,
		`["NaN", 0, 0]`,
		`[true, 0, 0]`,
		`{"msg":"odometer"}`,
	} {
		_, err := ParseOdometry(decode(t, frame))
		assert.True(t, errors.Is(err, ErrInvalidOdometry), frame)
	}
	_, err := ParseOdometry(nil)
	assert.ErrorIs(t, err, ErrInvalidOdometry)
}

func TestOdometry_ThetaDegrees(t *testing.T) {
	assert.InDelta(t, 90, Odometry{Theta: math.Pi / 2}.ThetaDegrees(), 1e-9)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, route string, pose Odometry) error {
	args := m.Called(ctx, route, pose)
	return args.Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_Handle(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	sink := new(mockSink)
	want := Odometry{X: 10, Y: 20, Theta: 0.5, ReceivedAt: now}
	sink.On("Publish", mock.Anything, "odometer", want).Return(nil).Once()

	tr := NewTracker("odometer",
		WithSink(sink),
		WithTrackerLogger(quietLogger()),
		WithTrackerClock(func() time.Time { return now }),
	)

	_, ok := tr.Latest()
	assert.False(t, ok)

	tr.Handle(decode(t, `[10, 20, 0.5]`))
	tr.Handle(decode(t, `"garbage"`))

	pose, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, want, pose)

	received, rejected := tr.Counts()
	assert.Equal(t, uint64(1), received)
	assert.Equal(t, uint64(1), rejected)
	assert.Equal(t, "odometer", tr.Route())
	tr.Close()
	sink.AssertExpectations(t)
}

func TestTracker_SinkFailureKeepsPose(t *testing.T) {
	sink := new(mockSink)
	sink.On("Publish", mock.Anything, "odometer", mock.Anything).Return(errors.New("redis down"))

	tr := NewTracker("odometer", WithSink(sink), WithTrackerLogger(quietLogger()))
	tr.Handle(decode(t, `[1, 2, 3]`))
	tr.Close()

	pose, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.0, pose.X)
	sink.AssertNumberOfCalls(t, "Publish", 1)
}

// blockingSink holds every Publish until release is closed.
type blockingSink struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSink) Publish(ctx context.Context, _ string, _ Odometry) error {
	b.calls.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestTracker_SlowSinkDoesNotBlockHandle(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	tr := NewTracker("odometer", WithSink(sink), WithTrackerLogger(quietLogger()))

	start := time.Now()
	for i := 0; i < 100; i++ {
		tr.Handle(decode(t, fmt.Sprintf(`[%d, 0, 0]`, i)))
	}
	assert.Less(t, time.Since(start), time.Second)

	pose, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 99.0, pose.X)
	received, _ := tr.Counts()
	assert.Equal(t, uint64(100), received)
	assert.Greater(t, tr.Dropped(), uint64(0))

	close(sink.release)
	tr.Close()
	assert.Equal(t, int32(100-tr.Dropped()), sink.calls.Load())

	// after Close poses are still tracked but no longer published
	tr.Handle(decode(t, `[500, 0, 0]`))
	pose, _ = tr.Latest()
	assert.Equal(t, 500.0, pose.X)
	assert.Equal(t, int32(100-tr.Dropped()), sink.calls.Load())
}

func TestRedisSink_NilIsNoop(t *testing.T) {
	var s *RedisSink
	assert.NoError(t, s.Publish(context.Background(), "odometer", Odometry{}))
	_, ok, err := s.Last(context.Background(), "odometer")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestRedisOptions(t *testing.T) {
	_, err := redisOptions("")
	assert.Error(t, err)

	opts, err := redisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = redisOptions("redis://localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	assert.Equal(t, "odometry:odometer", PoseKey("odometer"))
	assert.Equal(t, "odometry:odometer:updates", UpdatesKey("odometer"))
}
