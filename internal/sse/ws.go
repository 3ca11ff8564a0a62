package sse

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose Origin host matches the Host being served.
// Cross-origin pages cannot open the stream even when auth is disabled.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// WSMessage is one event as delivered to websocket clients.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeFrame splits an SSE frame into its event type and JSON payload.
func decodeFrame(frame []byte) (WSMessage, bool) {
	var msg WSMessage
	for _, line := range bytes.Split(frame, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("event: ")):
			msg.Type = string(line[len("event: "):])
		case bytes.HasPrefix(line, []byte("data: ")):
			msg.Data = json.RawMessage(line[len("data: "):])
		}
	}
	return msg, msg.Type != "" && msg.Data != nil
}

// WebSocketHandler streams the broker's events to websocket clients as JSON
// messages ({"type": ..., "data": ...}). Messages sent by the client are
// discarded.
func (b *Broker) WebSocketHandler(logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("sse: websocket upgrade", slog.String("error", err.Error()))
			return
		}
		defer conn.Close()

		ch := b.Subscribe()
		defer b.Unsubscribe(ch)

		// Read until the client goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logger.Debug("sse: websocket read", slog.String("error", err.Error()))
					}
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case frame, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				msg, ok := decodeFrame(frame)
				if !ok {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}
}
