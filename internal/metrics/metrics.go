package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the channel collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "robocom").
	Namespace string

	// Subsystem is the metrics subsystem (default: "channel").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "robocom",
		Subsystem: "channel",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector records per-route channel activity. A nil *Collector is valid
// and records nothing.
type Collector struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	transportFails *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	state          *prometheus.GaugeVec
}

// New registers the collectors on the configured registry.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Collector{
		framesSent:     counter("frames_sent_total", "Frames written to the robot", "route"),
		framesReceived: counter("frames_received_total", "Frames read from the robot", "route"),
		framesDropped:  counter("frames_dropped_total", "Inbound frames dropped before reaching the handler", "route", "reason"),
		decodeErrors:   counter("decode_errors_total", "Inbound frames that failed to decode", "route"),
		transportFails: counter("transport_failures_total", "Connections lost or refused", "route"),
		reconnects:     counter("reconnects_total", "Reconnection attempts", "route"),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state",
			Help:        "1 for the current state of each channel, 0 otherwise",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "state"}),
	}
}

func (c *Collector) FrameSent(route string) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(route).Inc()
}

func (c *Collector) FrameReceived(route string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(route).Inc()
}

func (c *Collector) FrameDropped(route, reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(route, reason).Inc()
}

func (c *Collector) DecodeError(route string) {
	if c == nil {
		return
	}
	c.decodeErrors.WithLabelValues(route).Inc()
}

func (c *Collector) TransportFailure(route string) {
	if c == nil {
		return
	}
	c.transportFails.WithLabelValues(route).Inc()
}

func (c *Collector) Reconnect(route string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(route).Inc()
}

// SetState marks current as the active state of route among all states.
func (c *Collector) SetState(route, current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(route, s).Set(v)
	}
}
