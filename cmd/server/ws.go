package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the HTTP routes
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type offerSnapshot struct {
	*models.Offer
	Available int64 `json:"available"`
}

// hub pushes the active offer book to websocket clients, on every ledger
// event and on a fixed interval
type hub struct {
	pool   *pool.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
	dirty   chan struct{}
}

// newHub creates a hub; pool must be set before run is started
func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*wsClient]bool),
		dirty:   make(chan struct{}, 1),
	}
}

// Emit marks the book dirty. It runs under the pool lock, so it must not
// read the pool itself.
func (h *hub) Emit(context.Context, models.Event) {
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

func (h *hub) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		case <-h.dirty:
			h.broadcast()
		}
	}
}

func (h *hub) snapshot() ([]byte, error) {
	offers := h.pool.Offers()
	book := make([]offerSnapshot, 0, len(offers))
	for _, o := range offers {
		available, err := h.pool.AvailableCapacity(o.ID)
		if err != nil {
			continue
		}
		book = append(book, offerSnapshot{Offer: o, Available: available})
	}
	return json.Marshal(struct {
		Offers []offerSnapshot `json:"offers"`
	}{Offers: book})
}

func (h *hub) broadcast() {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}
	data, err := h.snapshot()
	if err != nil {
		h.logger.Error("failed to marshal offer book", "error", err)
		return
	}

	var failed []*wsClient
	h.mu.RLock()
	for client := range h.clients {
		if err := client.send(data); err != nil {
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range failed {
		h.remove(client)
	}
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *hub) remove(client *wsClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		client.conn.Close()
	}
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// initial book for the new client
	if data, err := h.snapshot(); err == nil {
		if err := client.send(data); err != nil {
			h.remove(client)
			return
		}
	}

	// keep reading until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}
