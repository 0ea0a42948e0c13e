package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type wsClient struct {
	conn    *websocket.Conn
	sub     *Subscription
	control chan []byte
}

type clientFrame struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the request and streams events as JSON text frames
// until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	sub := h.Subscribe()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.Debug("relay ws upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, sub: sub, control: make(chan []byte, 1)}
	slog.Debug("relay ws client connected", "remote", r.RemoteAddr)
	go c.writePump()
	c.readPump()
	slog.Debug("relay ws client disconnected", "remote", r.RemoteAddr)
}

func (c *wsClient) readPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f clientFrame
		if json.Unmarshal(msg, &f) != nil || !strings.EqualFold(f.Type, "ping") {
			continue
		}
		pong, err := json.Marshal(Event{Type: "pong", Payload: map[string]any{"timestamp": time.Now().UTC()}, At: time.Now().UTC()})
		if err != nil {
			continue
		}
		select {
		case c.control <- pong:
		default:
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("relay ws event encode failed", "event_type", ev.Type, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case msg := <-c.control:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
