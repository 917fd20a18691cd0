// Package livefeed streams live PCM to websocket clients.
//
// A client connects to the hub with ?stream=mixed|mic|system (default mixed).
// Before the first audio frame, and whenever the format changes, the client
// receives a JSON text message describing the PCM that follows:
//
//	{"type":"format","stream":"mixed","format":{"sampleRate":16000,"channels":1,"bitDepth":16}}
//
// Audio is then sent as binary messages of raw little-endian PCM. Clients that
// cannot keep up lose chunks; the capture path never waits on the network.
package livefeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultClientBuffer is the number of chunks queued per client.
	DefaultClientBuffer = 64
)

// Kind selects which audio a client receives.
type Kind string

const (
	KindMixed      Kind = "mixed"
	KindMicrophone Kind = "mic"
	KindSystem     Kind = "system"
)

// ParseKind validates a stream name from a query string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindMixed, nil
	case KindMixed, KindMicrophone, KindSystem:
		return k, nil
	default:
		return "", fmt.Errorf("livefeed: unknown stream %q (valid: mixed, mic, system)", s)
	}
}

// formatMessage announces the PCM layout of the binary frames that follow.
type formatMessage struct {
	Type   string       `json:"type"`
	Stream Kind         `json:"stream"`
	Format audio.Format `json:"format"`
}

type frame struct {
	data   []byte
	format audio.Format
}

type client struct {
	conn *websocket.Conn
	kind Kind
	send chan frame
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans chunks out to connected clients. It implements http.Handler.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

// NewHub returns a hub with per-client buffers of size buffer
// (DefaultClientBuffer if buffer <= 0).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of chunks discarded for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Publish queues chunk for every client subscribed to kind. It never blocks.
// The chunk must not be modified afterwards.
func (h *Hub) Publish(kind Kind, chunk []byte, f audio.Format) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.kind != kind {
			continue
		}
		select {
		case c.send <- frame{data: chunk, format: f}:
		default:
			if h.dropped.Add(1)%100 == 1 {
				slog.Debug("[livefeed] client too slow, dropping chunks", "stream", kind, "dropped_total", h.dropped.Load())
			}
		}
	}
}

// Sink returns a function suitable for mixer callbacks that publishes to kind.
func (h *Hub) Sink(kind Kind) func(chunk []byte, f audio.Format) {
	return func(chunk []byte, f audio.Format) {
		h.Publish(kind, chunk, f)
	}
}

// ServeHTTP upgrades the request and streams audio until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.URL.Query().Get("stream"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[livefeed] upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn: conn,
		kind: kind,
		send: make(chan frame, h.buffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		c.close()
		return
	}
	slog.Info("[livefeed] client connected", "remote", conn.RemoteAddr(), "stream", kind)

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[livefeed] read error", "remote", c.conn.RemoteAddr(), "error", err)
			}
			slog.Info("[livefeed] client disconnected", "remote", c.conn.RemoteAddr())
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	var current audio.Format
	for {
		select {
		case <-c.done:
			return

		case fr := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if fr.format != current {
				msg, err := json.Marshal(formatMessage{Type: "format", Stream: c.kind, Format: fr.format})
				if err != nil {
					slog.Error("[livefeed] encode format message", "error", err)
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
				current = fr.format
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, fr.data); err != nil {
				slog.Debug("[livefeed] write error", "remote", c.conn.RemoteAddr(), "error", err)
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
