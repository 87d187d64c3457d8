// Package telemetry decodes the pose updates the robot publishes on its
// odometry route and keeps the latest one around for the console.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

// ErrInvalidOdometry is returned for payloads that are not [x, y, theta].
var ErrInvalidOdometry = errors.New("invalid odometry payload")

// Odometry is the robot pose: millimetres on the table and heading in radians.
type Odometry struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Theta      float64   `json:"theta"`
	ReceivedAt time.Time `json:"received_at"`
}

// ThetaDegrees returns the heading in degrees.
func (o Odometry) ThetaDegrees() float64 {
	return o.Theta * 180 / math.Pi
}

// ParseOdometry reads [x, y, theta] from env. Components may be numbers or
// numeric strings; extra trailing components are ignored.
func ParseOdometry(env *envelope.Envelope) (Odometry, error) {
	if env == nil || len(env.Data) == 0 {
		return Odometry{}, fmt.Errorf("%w: empty", ErrInvalidOdometry)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(env.Data, &parts); err != nil {
		return Odometry{}, fmt.Errorf("%w: not an array", ErrInvalidOdometry)
	}
	if len(parts) < 3 {
		return Odometry{}, fmt.Errorf("%w: want 3 components, got %d", ErrInvalidOdometry, len(parts))
	}
	var values [3]float64
	for i := range values {
		v, err := parseComponent(parts[i])
		if err != nil {
			return Odometry{}, fmt.Errorf("%w: component %d: %v", ErrInvalidOdometry, i, err)
		}
		values[i] = v
	}
	return Odometry{X: values[0], Y: values[1], Theta: values[2]}, nil
}

func parseComponent(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// Sink receives every accepted pose.
type Sink interface {
	Publish(ctx context.Context, route string, pose Odometry) error
}

// publishQueue bounds how many poses wait for a slow sink.
const publishQueue = 16

// Tracker is a channel handler that keeps the latest pose of one route.
// Poses reach the sink from a separate goroutine so a slow sink never stalls
// the route's read loop; when the queue is full the pose is dropped.
type Tracker struct {
	route   string
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration

	mu       sync.RWMutex
	latest   Odometry
	hasPose  bool
	received uint64
	rejected uint64
	dropped  uint64

	queue     chan Odometry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type TrackerOption func(*Tracker)

func WithSink(s Sink) TrackerOption {
	return func(t *Tracker) { t.sink = s }
}

func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(route string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		route:   route,
		logger:  slog.Default(),
		now:     time.Now,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("route", route)
	if t.sink != nil {
		t.queue = make(chan Odometry, publishQueue)
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.publishLoop()
	}
	return t
}

// Handle is meant to be attached as the route's handler. Unparsable frames
// are logged and dropped.
func (t *Tracker) Handle(env *envelope.Envelope) {
	pose, err := ParseOdometry(env)
	if err != nil {
		t.mu.Lock()
		t.rejected++
		t.mu.Unlock()
		t.logger.Warn("odometry_rejected", "error", err)
		return
	}
	pose.ReceivedAt = t.now()

	t.mu.Lock()
	t.latest = pose
	t.hasPose = true
	t.received++
	t.mu.Unlock()

	if t.queue == nil {
		return
	}
	select {
	case <-t.stop:
		return
	default:
	}
	select {
	case t.queue <- pose:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		t.logger.Debug("odometry_publish_dropped")
	}
}

func (t *Tracker) publishLoop() {
	defer close(t.done)
	for {
		select {
		case pose := <-t.queue:
			t.publish(pose)
		case <-t.stop:
			// flush what is already queued
			for {
				select {
				case pose := <-t.queue:
					t.publish(pose)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) publish(pose Odometry) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.sink.Publish(ctx, t.route, pose); err != nil {
		t.logger.Warn("odometry_publish_failed", "error", err)
	}
}

// Close flushes queued poses to the sink and stops publishing. Handle keeps
// tracking the latest pose afterwards.
func (t *Tracker) Close() {
	if t.queue == nil {
		return
	}
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.done
	})
}

// Latest returns the last accepted pose; ok is false until one arrives.
func (t *Tracker) Latest() (pose Odometry, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasPose
}

// Counts returns how many frames were accepted and rejected.
func (t *Tracker) Counts() (received, rejected uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.received, t.rejected
}

// Dropped returns how many poses were not handed to the sink because it fell
// behind.
func (t *Tracker) Dropped() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

func (t *Tracker) Route() string { return t.route }
