// Package realtime pushes assistant session events to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fleetintel/internal/assistant"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type Hub struct {
	mu           sync.RWMutex
	sessionConns map[string]map[*client]struct{}
	closed       bool
	unregister   chan subscription
	stopped      chan struct{}
	upgrader     websocket.Upgrader
	log          zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

type subscription struct {
	sessionID string
	client    *client
}

// Join registers a subscriber. It must call register exactly once, with the
// first frame, while no event for the session can be published.
type Join func(register func(first any))

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessionConns: make(map[string]map[*client]struct{}),
		unregister:   make(chan subscription),
		stopped:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "realtime").Logger(),
	}
}

// Run removes departed subscribers until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case sub := <-h.unregister:
			h.remove(sub)
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for id, conns := range h.sessionConns {
				for c := range conns {
					c.close()
				}
				delete(h.sessionConns, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ServeSession upgrades the request and subscribes it to sessionID through
// join. The first frame is queued ahead of any event published after it.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string, join Join) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("ws upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	sub := subscription{sessionID: sessionID, client: c}

	added := false
	join(func(first any) {
		if first != nil {
			if b, err := json.Marshal(first); err == nil {
				c.send <- b
			}
		}
		added = h.add(sub)
	})
	if !added {
		conn.Close()
		return
	}

	go h.writePump(c)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				select {
				case h.unregister <- sub:
				case <-h.stopped:
				}
				return
			}
		}
	}()
}

func (h *Hub) add(sub subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.sessionConns[sub.sessionID] == nil {
		h.sessionConns[sub.sessionID] = make(map[*client]struct{})
	}
	h.sessionConns[sub.sessionID][sub.client] = struct{}{}
	return true
}

// Publish implements assistant.Observer. It never blocks: a subscriber whose
// buffer is full is dropped.
func (h *Hub) Publish(evt assistant.Event) {
	h.mu.RLock()
	conns := h.sessionConns[evt.SessionID]
	if len(conns) == 0 {
		h.mu.RUnlock()
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		h.mu.RUnlock()
		h.log.Error().Err(err).Msg("encode event")
		return
	}
	var slow []*client
	for c := range conns {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("session_id", evt.SessionID).Msg("dropping slow subscriber")
		h.remove(subscription{sessionID: evt.SessionID, client: c})
	}
}

// Subscribers returns how many connections follow sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessionConns[sessionID])
}

func (h *Hub) remove(sub subscription) {
	h.mu.Lock()
	if conns, ok := h.sessionConns[sub.sessionID]; ok {
		delete(conns, sub.client)
		if len(conns) == 0 {
			delete(h.sessionConns, sub.sessionID)
		}
	}
	h.mu.Unlock()
	sub.client.close()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
