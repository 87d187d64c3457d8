package wsmux

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/metrics"
)

const ( // ping pong(2-way heartbeat) to keep the robot link alive
	WriteWait      = 10 * time.Second    // max time to write a frame to the robot
	PongWait       = 60 * time.Second    // no pong within this window = dead connection
	PingPeriod     = (PongWait * 9) / 10 // 90% of pong wait leaves room for network jitter
	MaxMessageSize = 8 * 1024            // maximum inbound frame size
	SendQueueSize  = 256                 // buffered outbound frames per connection
)

// Dialer opens the websocket behind a channel. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Handler receives every decoded inbound envelope of a channel.
type Handler func(env *envelope.Envelope)

// StateHook observes channel state changes. err is a *TransportFailure for
// StateClosedError and nil otherwise. Hooks run on channel goroutines and
// must not block or call Close.
type StateHook func(route string, state State, err error)

type options struct {
	logger         *slog.Logger
	dialer         Dialer
	metrics        *metrics.Collector
	reconnect      ReconnectPolicy
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	inboundRate    rate.Limit
	inboundBurst   int
	stateHook      StateHook
	now            func() time.Time
	sendQueue      int
}

func defaultOptions() *options {
	return &options{
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: WriteWait,
		},
		reconnect:      NoReconnect,
		writeWait:      WriteWait,
		pongWait:       PongWait,
		pingPeriod:     PingPeriod,
		maxMessageSize: MaxMessageSize,
		now:            time.Now,
		sendQueue:      SendQueueSize,
	}
}

// Option customizes a Manager and the channels it creates.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *options) { o.reconnect = p }
}

// WithKeepalive sets the heartbeat timings. A zero pingPeriod disables pings
// and read deadlines.
func WithKeepalive(pingPeriod, pongWait, writeWait time.Duration) Option {
	return func(o *options) {
		o.pingPeriod = pingPeriod
		o.pongWait = pongWait
		o.writeWait = writeWait
	}
}

func WithMaxMessageSize(n int64) Option {
	return func(o *options) { o.maxMessageSize = n }
}

// WithInboundLimit drops inbound frames above perSecond with the given burst.
// perSecond <= 0 disables limiting.
func WithInboundLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.inboundRate = rate.Limit(perSecond)
		o.inboundBurst = burst
	}
}

func WithStateHook(h StateHook) Option {
	return func(o *options) { o.stateHook = h }
}

// WithClock sets the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithSendQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendQueue = n
		}
	}
}
