package wsmux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var fixedNow = time.UnixMilli(1700000000000)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// inbound is a frame received by the fake robot.
type inbound struct {
	path   string
	sender string
	data   []byte
}

// robotServer is a websocket endpoint standing in for the robot.
type robotServer struct {
	*httptest.Server
	frames  chan inbound
	conns   chan *websocket.Conn
	accepts atomic.Int32
}

func newRobotServer(t *testing.T) *robotServer {
	t.Helper()
	rs := &robotServer{
		frames: make(chan inbound, 256),
		conns:  make(chan *websocket.Conn, 16),
	}
	upgrader := websocket.Upgrader{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.accepts.Add(1)
		rs.conns <- conn
		path, sender := r.URL.Path, r.URL.Query().Get("sender")
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			rs.frames <- inbound{path: path, sender: sender, data: data}
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *robotServer) endpoint(t *testing.T) Endpoint {
	t.Helper()
	u, err := url.Parse(rs.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return Endpoint{Host: host, Port: p, Sender: "WebUI"}
}

// nextConn returns the server side of the next accepted connection.
func (rs *robotServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-rs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (rs *robotServer) nextFrame(t *testing.T) inbound {
	t.Helper()
	select {
	case f := <-rs.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return inbound{}
	}
}

// blockingDialer never completes a handshake.
type blockingDialer struct {
	calls atomic.Int32
}

func (d *blockingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

var errRefused = errors.New("connection refused")

// failingDialer refuses every connection.
type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errRefused
}

// stateRecorder collects StateHook calls.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
}

func (r *stateRecorder) hook(_ string, s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.errs = append(r.errs, err)
}

func (r *stateRecorder) seen(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func (r *stateRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.errs) - 1; i >= 0; i-- {
		if r.errs[i] != nil {
			return r.errs[i]
		}
	}
	return nil
}

func waitOpen(t *testing.T, ch *Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.WaitOpen(ctx); err != nil {
		t.Fatalf("channel %s did not open: %v", ch.Route(), err)
	}
}
