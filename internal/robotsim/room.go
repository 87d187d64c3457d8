package robotsim

import (
	"log/slog"
	"sync"
)

// Room = every console connected on one route
type Room struct {
	Route   string
	clients map[string]*Client
	mu      sync.RWMutex
}

func NewRoom(route string) *Room {
	return &Room{
		Route:   route,
		clients: make(map[string]*Client),
	}
}

func (r *Room) AddClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	slog.Info("sim_client_joined", "route", r.Route, "client_id", c.ID, "sender", c.Sender)
}

func (r *Room) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		delete(r.clients, c.ID)
		slog.Info("sim_client_left", "route", r.Route, "client_id", c.ID)
	}
}

// Broadcast sends msg to every client in the room. Slow clients miss it.
// The read lock is held while sending so a client cannot close its queue
// underneath.
func (r *Room) Broadcast(msg []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for _, c := range r.clients {
		if c.SendMessage(msg) {
			delivered++
		} else {
			slog.Warn("sim_client_slow", "route", r.Route, "client_id", c.ID)
		}
	}
	return delivered
}

func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
