package wsmux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

// Channel is one named logical connection to the robot. It owns a single
// websocket at a time and at most one receive handler.
type Channel struct {
	ID      string // unique per channel instance, for log correlation
	route   string
	address string
	codec   *envelope.Codec
	opts    *options
	logger  *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the supervisor goroutine exits

	mu       sync.RWMutex
	state    State
	lastErr  error
	handler  Handler
	session  *session
	changed  chan struct{} // closed and replaced on every transition
	closing  bool
	finished bool // no further connection attempts will be made
}

// session is one established websocket connection.
type session struct {
	conn       *websocket.Conn
	outbound   chan []byte   // frames waiting for the write pump
	stop       chan struct{} // graceful close requested
	done       chan struct{} // connection ended
	writerDone chan struct{}
	endOnce    sync.Once
}

func newSession(conn *websocket.Conn, queue int) *session {
	return &session{
		conn:       conn,
		outbound:   make(chan []byte, queue),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *session) end() {
	s.endOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// openChannel starts connecting in the background and returns immediately
// in StateConnecting.
func openChannel(route, address string, codec *envelope.Codec, opts *options) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Channel{
		ID:      id,
		route:   route,
		address: address,
		codec:   codec,
		opts:    opts,
		logger:  opts.logger.With("route", route, "channel_id", id),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateConnecting,
		changed: make(chan struct{}),
	}
	if opts.inboundRate > 0 {
		c.limiter = rate.NewLimiter(opts.inboundRate, opts.inboundBurst)
	}
	go c.run()
	return c
}

func (c *Channel) Route() string   { return c.route }
func (c *Channel) Address() string { return c.address }

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the last transport failure, or nil while the channel is healthy.
func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// SetHandler replaces the receive handler. The previous handler, if any, is
// discarded; subscription is not additive. A nil handler drops inbound frames.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Channel) currentHandler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// Send frames payload and hands it to the connection's write pump. It fails
// with ErrNotConnected unless the channel is open; nothing is queued then.
// The read lock is held through the enqueue so Close cannot stop the write
// pump between the state check and the queue.
func (c *Channel) Send(kind string, payload any) error {
	frame, err := c.codec.Encode(kind, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.session
	if c.state != StateOpen || c.closing || s == nil {
		return fmt.Errorf("route %q is %s: %w", c.route, c.state, ErrNotConnected)
	}
	select {
	case <-s.done:
		return fmt.Errorf("route %q: %w", c.route, ErrNotConnected)
	case <-s.stop:
		return fmt.Errorf("route %q: %w", c.route, ErrNotConnected)
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	default:
		c.logger.Warn("send_queue_full", "kind", kind, "capacity", cap(s.outbound))
		return fmt.Errorf("route %q: %w", c.route, ErrSendQueueFull)
	}
}

// WaitOpen blocks until the channel is open, can no longer open, or ctx ends.
func (c *Channel) WaitOpen(ctx context.Context) error {
	for {
		c.mu.RLock()
		state, changed, lastErr := c.state, c.changed, c.lastErr
		terminal := c.finished || (state == StateClosedError && !c.opts.reconnect.Enabled())
		c.mu.RUnlock()

		switch {
		case state == StateOpen:
			return nil
		case state == StateClosed:
			return fmt.Errorf("route %q: %w", c.route, ErrChannelClosed)
		case terminal && lastErr != nil:
			return lastErr
		case terminal:
			return fmt.Errorf("route %q: %w", c.route, ErrChannelClosed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close flushes queued frames, sends a close frame and moves the channel to
// StateClosed. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	s := c.session
	c.session = nil
	notify := c.setStateLocked(StateClosed, nil)
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		close(s.stop)
		timer := time.NewTimer(c.opts.writeWait + time.Second)
		select {
		case <-s.writerDone:
		case <-timer.C:
			c.logger.Warn("close_flush_timeout")
		}
		timer.Stop()
		s.end()
	}
	notify()
	<-c.done
	return nil
}

// run is the supervisor: it dials, waits for the connection to end and
// applies the reconnect policy.
func (c *Channel) run() {
	defer close(c.done)
	defer c.markFinished()

	c.announce(StateConnecting, nil)
	bo := c.opts.reconnect.newBackOff()
	for {
		s, err := c.connect()
		if err == nil {
			if bo != nil {
				bo.Reset()
			}
			<-s.done
		}
		if c.ctx.Err() != nil || bo == nil {
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Warn("reconnect_exhausted", "max_attempts", c.opts.reconnect.MaxAttempts)
			return
		}
		c.logger.Info("reconnect_scheduled", "delay", wait.String())
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		notify := c.setStateLocked(StateConnecting, nil)
		c.mu.Unlock()
		notify()
		c.opts.metrics.Reconnect(c.route)
	}
}

func (c *Channel) connect() (*session, error) {
	conn, _, err := c.opts.dialer.DialContext(c.ctx, c.address, nil)
	if err != nil {
		if c.ctx.Err() == nil {
			c.fail(nil, err)
		}
		return nil, err
	}

	s := newSession(conn, c.opts.sendQueue)
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrChannelClosed
	}
	c.session = s
	notify := c.setStateLocked(StateOpen, nil)
	c.mu.Unlock()

	go c.writePump(s)
	go c.readPump(s)
	notify()
	return s, nil
}

// fail records a transport failure. s is nil for a failed dial; failures of
// a session that is no longer current are ignored.
func (c *Channel) fail(s *session, err error) {
	c.mu.Lock()
	if s != nil && c.session != s {
		c.mu.Unlock()
		s.end()
		return
	}
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.session = nil
	notify := c.setStateLocked(StateClosedError, &TransportFailure{Route: c.route, Err: err})
	c.mu.Unlock()

	if s != nil {
		s.end()
	}
	notify()
}

func (c *Channel) markFinished() {
	c.mu.Lock()
	c.finished = true
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// setStateLocked must be called with c.mu held. The returned func reports the
// transition and must be called after the lock is released.
func (c *Channel) setStateLocked(state State, err error) func() {
	c.state = state
	switch {
	case state == StateOpen:
		c.lastErr = nil
	case err != nil:
		c.lastErr = err
	}
	close(c.changed)
	c.changed = make(chan struct{})
	return func() { c.announce(state, err) }
}

func (c *Channel) announce(state State, err error) {
	c.opts.metrics.SetState(c.route, state.String(), allStates)
	switch state {
	case StateConnecting:
		c.logger.Debug("channel_connecting", "address", c.address)
	case StateOpen:
		c.logger.Info("channel_opened", "address", c.address)
	case StateClosed:
		c.logger.Info("channel_closed")
	case StateClosedError:
		c.opts.metrics.TransportFailure(c.route)
		c.logger.Error("channel_failed", "error", err)
	}
	if hook := c.opts.stateHook; hook != nil {
		hook(c.route, state, err)
	}
}

func (c *Channel) writePump(s *session) {
	defer close(s.writerDone)

	var tick <-chan time.Time
	if c.opts.pingPeriod > 0 {
		ticker := time.NewTicker(c.opts.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-s.outbound:
			if err := c.write(s, websocket.TextMessage, frame); err != nil {
				c.fail(s, err)
				return
			}
			c.opts.metrics.FrameSent(c.route)
		case <-tick:
			if err := c.write(s, websocket.PingMessage, nil); err != nil {
				c.fail(s, err)
				return
			}
		case <-s.stop:
			c.flush(s)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.write(s, websocket.CloseMessage, msg); err != nil {
				c.logger.Debug("close_frame_failed", "error", err)
			}
			return
		case <-s.done:
			return
		}
	}
}

// flush writes whatever is still queued before a graceful close.
func (c *Channel) flush(s *session) {
	for {
		select {
		case frame := <-s.outbound:
			if err := c.write(s, websocket.TextMessage, frame); err != nil {
				c.logger.Warn("flush_failed", "error", err, "pending", len(s.outbound))
				return
			}
			c.opts.metrics.FrameSent(c.route)
		default:
			return
		}
	}
}

func (c *Channel) write(s *session, messageType int, data []byte) error {
	if c.opts.writeWait > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(c.opts.writeWait)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(messageType, data)
}

func (c *Channel) readPump(s *session) {
	conn := s.conn
	if c.opts.maxMessageSize > 0 {
		conn.SetReadLimit(c.opts.maxMessageSize)
	}
	keepalive := c.opts.pingPeriod > 0 && c.opts.pongWait > 0
	if keepalive {
		conn.SetReadDeadline(time.Now().Add(c.opts.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.opts.pongWait))
		})
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read_error", "error", err)
			}
			c.fail(s, err)
			return
		}
		if keepalive {
			conn.SetReadDeadline(time.Now().Add(c.opts.pongWait))
		}
		c.opts.metrics.FrameReceived(c.route)

		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Warn("rate_limit_exceeded", "size", len(frame))
			c.opts.metrics.FrameDropped(c.route, "rate_limited")
			continue
		}

		env, err := envelope.Decode(frame)
		if err != nil {
			c.logger.Warn("frame_decode_failed", "error", err, "size", len(frame))
			c.opts.metrics.DecodeError(c.route)
			continue
		}

		h := c.currentHandler()
		if h == nil {
			c.opts.metrics.FrameDropped(c.route, "no_handler")
			continue
		}
		c.dispatch(h, env)
	}
}

// dispatch runs the handler so that a panicking handler cannot take the
// channel down.
func (c *Channel) dispatch(h Handler, env *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler_panic", "panic", fmt.Sprint(r), "kind", env.Kind)
			c.opts.metrics.FrameDropped(c.route, "handler_panic")
		}
	}()
	h(env)
}
