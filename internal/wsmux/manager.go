package wsmux

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/envelope"
)

// Endpoint is the fixed robot address and the identity this console sends as.
type Endpoint struct {
	Scheme string // "ws" or "wss", defaults to "ws"
	Host   string
	Port   int
	Sender string
}

// Address returns scheme://host:port/route?sender=identity.
func (e Endpoint) Address(route string) string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:     "/" + route,
		RawQuery: url.Values{"sender": []string{e.Sender}}.Encode(),
	}
	return u.String()
}

// Manager owns every channel of one console, keyed by route.
type Manager struct {
	endpoint Endpoint
	codec    *envelope.Codec
	opts     *options
	logger   *slog.Logger

	mu       sync.RWMutex // guards channels and closed
	channels map[string]*Channel
	closed   bool
}

func NewManager(endpoint Endpoint, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{
		endpoint: endpoint,
		codec:    &envelope.Codec{Sender: endpoint.Sender, Now: o.now},
		opts:     o,
		logger:   o.logger,
		channels: make(map[string]*Channel),
	}
}

// AddChannel returns the channel for route, opening it on first use.
// Concurrent calls for the same route observe the same channel and only one
// connection is opened.
func (m *Manager) AddChannel(route string) (*Channel, error) {
	if strings.TrimSpace(route) == "" || strings.ContainsAny(route, "/?# ") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoute, route)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if ch, ok := m.channels[route]; ok {
		return ch, nil
	}

	ch := openChannel(route, m.endpoint.Address(route), m.codec, m.opts)
	m.channels[route] = ch
	m.logger.Info("channel_added",
		"route", route,
		"channel_id", ch.ID,
		"address", ch.Address(),
	)
	return ch, nil
}

// Channel looks up a registered route.
func (m *Manager) Channel(route string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[route]
	if !ok {
		return nil, &UnknownRouteError{Route: route}
	}
	return ch, nil
}

// AttachHandler replaces the receive handler of route.
func (m *Manager) AttachHandler(route string, h Handler) error {
	ch, err := m.Channel(route)
	if err != nil {
		return err
	}
	ch.SetHandler(h)
	return nil
}

// Send frames (kind, payload) on route. ErrNotConnected from the channel is
// returned unchanged.
func (m *Manager) Send(route, kind string, payload any) error {
	ch, err := m.Channel(route)
	if err != nil {
		return err
	}
	return ch.Send(kind, payload)
}

// Routes lists registered routes in lexical order.
func (m *Manager) Routes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	routes := make([]string, 0, len(m.channels))
	for r := range m.channels {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

// States snapshots the state of every channel.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := make(map[string]State, len(m.channels))
	for r, ch := range m.channels {
		states[r] = ch.State()
	}
	return states
}

// Close closes every channel. The manager rejects new routes afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(channels))
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch *Channel) {
			defer wg.Done()
			errs[i] = ch.Close()
		}(i, ch)
	}
	wg.Wait()

	m.logger.Info("manager_closed", "channels", len(channels))
	return errors.Join(errs...)
}
