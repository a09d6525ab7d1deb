package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/alerts"
	"github.com/ambspc/spcengine/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// recentPoints is how many of the newest data points each message carries.
	recentPoints = 50

	// buildTimeout bounds the store reads behind one message.
	buildTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; CORS belongs to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients on every broadcast tick.
type Message struct {
	Event string    `json:"event"`
	Data  Dashboard `json:"data"`
}

// Dashboard is the live SPC view pushed to clients.
type Dashboard struct {
	DataPoints  []store.DataPoint    `json:"data_points"` // newest first
	Counts      map[spc.Status]int   `json:"counts"`
	Alerts      []*alerts.Alert      `json:"alerts"`
	Sources     []store.SourceStatus `json:"sources"`
	GeneratedAt string               `json:"generated_at"` // RFC3339
}

// AlertLister returns the currently active alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Hub manages WebSocket client connections and broadcasts the dashboard
// to all connected clients every interval.
type Hub struct {
	store    store.Store
	alerts   AlertLister
	sources  *store.Sources
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from st and broadcasts every interval.
// al and sources may be nil.
func New(st store.Store, al AlertLister, sources *store.Sources, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		alerts:   al,
		sources:  sources,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the broadcast ticker loop. It sends the current dashboard to all
// connected clients every interval. Run blocks until ctx is cancelled, then
// closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast(ctx)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends the current dashboard immediately on connect, then continues to
// receive broadcasts from the ticker loop. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	// Send the current dashboard immediately so the UI has data right away.
	if data, err := h.buildMessage(r.Context()); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast sends under the read lock so unregister cannot close a channel
// mid-send; clients with a full buffer are dropped afterwards.
func (h *Hub) broadcast(ctx context.Context) {
	data, err := h.buildMessage(ctx)
	if err != nil {
		slog.Warn("ws: build dashboard failed", "err", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client")
		h.unregister(c)
	}
}

func (h *Hub) buildMessage(ctx context.Context) ([]byte, error) {
	d, err := h.buildDashboard(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: "dashboard", Data: d})
}

func (h *Hub) buildDashboard(ctx context.Context) (Dashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	dps, err := h.store.ListDataPoints(ctx, store.DataPointFilter{Limit: recentPoints})
	if err != nil {
		return Dashboard{}, err
	}
	counts, err := h.store.CountDataPoints(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{
		DataPoints:  dps,
		Counts:      counts,
		Alerts:      []*alerts.Alert{},
		Sources:     []store.SourceStatus{},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if d.DataPoints == nil {
		d.DataPoints = []store.DataPoint{}
	}
	if h.alerts != nil {
		if a := h.alerts.Active(); a != nil {
			d.Alerts = a
		}
	}
	if h.sources != nil {
		d.Sources = h.sources.List()
	}
	return d, nil
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
