package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chainsight/utils"
)

const (
	writeTimeout      = 5 * time.Second
	HeartbeatInterval = 10 * time.Second
)

// ProgressFrame is one scan-progress update pushed to connected clients.
type ProgressFrame struct {
	Scan      string `json:"scan"`
	Chain     string `json:"chain"`
	Token     string `json:"token"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	Cursor    uint64 `json:"cursor"`
	ChunkSize uint64 `json:"chunk_size"`
	Logs      int    `json:"logs"`
}

// Hub fans scan-progress frames out to websocket subscribers. Slow or dead
// clients are dropped rather than allowed to stall a scan.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan ProgressFrame
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan ProgressFrame),
	}
}

// Handler upgrades the request and streams frames until the client leaves.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Error(err, "Websocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}

	frames := make(chan ProgressFrame, 64)
	h.mu.Lock()
	h.clients[conn] = frames
	h.mu.Unlock()

	go h.writeLoop(conn, frames)
	go h.readLoop(conn)
}

// Publish broadcasts one frame, dropping it for clients whose buffers are
// full.
func (h *Hub) Publish(frame ProgressFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, frames chan ProgressFrame) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	defer h.drop(conn)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client messages so pings/pongs and close frames are
// processed.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
