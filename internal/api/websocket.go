package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// The wallet event stream. The sync engine's sink must never block (events
// are emitted inline between storage commits), so each subscriber gets its
// own buffered queue drained by a writer pump; a consumer that cannot keep
// up with its queue is dropped instead of stalling the scan.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local wallet dashboard only
	},
}

const (
	clientQueueDepth = 64
	writeDeadline    = 5 * time.Second
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans wallet events (sync progress, received/spent outputs, reorgs,
// pool detections) out to websocket subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	broadcast   chan []byte

	// snapshot, when set, is sent to every new subscriber before any live
	// event so dashboards render the current sync state immediately.
	snapshot func() []byte
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		broadcast:   make(chan []byte, 256),
	}
}

// SetSnapshot installs the greeting payload builder (wallet sync status).
func (h *Hub) SetSnapshot(fn func() []byte) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run fans broadcast payloads into the per-subscriber queues. A full queue
// means the consumer fell behind the chain scan; it is disconnected.
func (h *Hub) Run() {
	for payload := range h.broadcast {
		h.mu.Lock()
		for sub := range h.subscribers {
			select {
			case sub.send <- payload:
			default:
				log.Printf("[WS] Dropping slow wallet-event subscriber (queue of %d full)", clientQueueDepth)
				delete(h.subscribers, sub)
				close(sub.send)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades the connection, pushes the status snapshot, and starts
// the writer/reader pumps.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, clientQueueDepth)}

	h.mu.Lock()
	if h.snapshot != nil {
		if greeting := h.snapshot(); greeting != nil {
			sub.send <- greeting
		}
	}
	h.subscribers[sub] = struct{}{}
	total := len(h.subscribers)
	h.mu.Unlock()

	log.Printf("[WS] Wallet event subscriber connected. Total: %d", total)

	go sub.writePump(h)
	go sub.readPump(h)
}

func (s *subscriber) writePump(h *Hub) {
	for payload := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(s)
			return
		}
	}
	s.conn.Close()
}

// readPump exists only to observe disconnects; subscribers never send.
func (s *subscriber) readPump(h *Hub) {
	defer h.drop(s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Subscriber error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
		log.Printf("[WS] Wallet event subscriber disconnected. Total: %d", len(h.subscribers))
	}
	h.mu.Unlock()
	s.conn.Close()
}

// Broadcast queues a JSON payload for every subscriber.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}
