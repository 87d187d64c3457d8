package robotsim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Individual console connection on one route

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 8192
	sendBuffer     = 64
)

type Client struct {
	ID     string
	Sender string // the ?sender= query parameter
	Route  string
	Conn   *websocket.Conn
	Send   chan []byte

	room      *Room
	robot     *Robot
	closeOnce sync.Once
}

func newClient(id, sender, route string, conn *websocket.Conn, room *Room, robot *Robot) *Client {
	return &Client{
		ID:     id,
		Sender: sender,
		Route:  route,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		room:   room,
		robot:  robot,
	}
}

// ReadPump hands every inbound frame to the robot until the connection ends.
func (c *Client) ReadPump() {
	defer c.Close()

	c.Conn.SetReadLimit(MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("sim_read_error", "route", c.Route, "client_id", c.ID, "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(PongWait))
		c.robot.Receive(c.Route, frame)
	}
}

// WritePump drains Send and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues msg, dropping it when the client is too slow.
func (c *Client) SendMessage(msg []byte) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Close leaves the room; the write pump then closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.room.RemoveClient(c)
		close(c.Send)
	})
}
