package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub streams received beacons to WebSocket clients.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	maxClients int
	onCount    func(int)

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	records chan Record
	stop    chan struct{}
	once    sync.Once
}

// NewHub creates a hub that accepts up to maxClients connections. Origins
// are checked against allowedOrigins; an empty list accepts any origin.
func NewHub(logger *zap.Logger, maxClients int, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:     logger,
		maxClients: maxClients,
		clients:    make(map[*websocket.Conn]*sync.Mutex),
		records:    make(chan Record, 256),
		stop:       make(chan struct{}),
	}
}

// Publish queues r for every connected client. Records are dropped when
// the queue is full.
func (h *Hub) Publish(r Record) {
	select {
	case h.records <- r:
	default:
		h.logger.Debug("stream queue full, record dropped", zap.Int64("id", r.ID))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run broadcasts published records until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-h.records:
			h.broadcast(r)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
}

func (h *Hub) broadcast(r Record) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	type target struct {
		conn *websocket.Conn
		mu   *sync.Mutex
	}
	targets := make([]target, 0, len(h.clients))
	for c, mu := range h.clients {
		targets = append(targets, target{c, mu})
	}
	h.mu.RUnlock()

	data, err := json.Marshal(map[string]any{"type": "beacon", "data": r})
	if err != nil {
		h.logger.Error("failed to marshal record", zap.Error(err))
		return
	}

	for _, t := range targets {
		t.mu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := t.conn.WriteMessage(websocket.TextMessage, data)
		t.mu.Unlock()
		if err != nil {
			t.conn.Close()
			h.remove(t.conn)
		}
	}
}

func (h *Hub) add(c *websocket.Conn) bool {
	h.mu.Lock()
	if len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = &sync.Mutex{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(n)
	}
	return true
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok && h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) writer(c *websocket.Conn) *sync.Mutex {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c]
}

// ServeHTTP upgrades the request and keeps the connection open until the
// client leaves or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Clients() >= h.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if !h.add(conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many clients"))
		return
	}
	defer h.remove(conn)
	mu := h.writer(conn)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// reads are needed to notice disconnects
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			mu.Unlock()
			if err != nil {
				return
			}
		case <-readDone:
			return
		case <-h.stop:
			mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			mu.Unlock()
			return
		}
	}
}
