package sprintbus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sprintrunner/internal/sprintlog"
	"sprintrunner/internal/sprintstore"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	// subscriberBufSize bounds how many pending frames a slow client may
	// queue before Bus.Broadcast marks it for removal.
	subscriberBufSize = 256

	// initReplayLimit is the number of most recent events replayed to a
	// newly connected peer.
	initReplayLimit = 50
)

// Upgrader adapts incoming HTTP requests to websocket connections.
// CheckOrigin always accepts; the gin-contrib/cors layer in front of this
// route is configured to allow all origins, so no origin is gated anywhere.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub adapts the logical Bus subscriber set to real websocket connections:
// it runs one read pump and one write pump per client, and answers the
// initial-state handshake on connect.
type Hub struct {
	bus    *Bus
	store  *sprintstore.Store
	logger *sprintlog.Logger
}

// NewHub builds a Hub fronting bus with store for initial-state replay.
func NewHub(bus *Bus, store *sprintstore.Store, logger *sprintlog.Logger) *Hub {
	return &Hub{bus: bus, store: store, logger: logger}
}

// ServeWebsocket upgrades the request and runs the connection until it
// closes, blocking the calling goroutine.
func (h *Hub) ServeWebsocket(w http.ResponseWriter, r *http.Request, activeBatchID int64) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed: %v", err)
		}
		return
	}

	sub := h.bus.Add(subscriberBufSize)
	h.sendInit(r.Context(), sub, activeBatchID)

	done := make(chan struct{})
	go h.writePump(conn, sub, done)
	h.readPump(conn, sub)
	close(done)
	h.bus.Remove(sub)
	_ = conn.Close()
}

// sendInit implements the initial-state handshake: the current active
// batch (if any) and its most recent events, newest-first for display.
func (h *Hub) sendInit(ctx context.Context, sub *subscriber, activeBatchID int64) {
	payload := map[string]any{"batch": nil, "events": []any{}}

	if activeBatchID != 0 {
		if batch, err := h.store.GetBatch(ctx, activeBatchID); err == nil {
			payload["batch"] = batch
		}
		if events, err := h.store.EventsOfBatch(ctx, activeBatchID, 0, -1); err == nil {
			if len(events) > initReplayLimit {
				events = events[len(events)-initReplayLimit:]
			}
			for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
				events[i], events[j] = events[j], events[i]
			}
			payload["events"] = events
		}
	}

	data, err := json.Marshal(Envelope{Type: "init", Payload: payload, Timestamp: time.Now()})
	if err != nil {
		return
	}
	select {
	case sub.send <- data:
	default:
	}
}

// writePump pumps queued frames to the connection and drives the heartbeat
// ping.
func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case message, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards all inbound text except {"type":"ping"}, which is
// answered with pong. Returns once the connection errors or
// closes.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.replyPong(sub)
		}
	}
}

// replyPong answers a client ping directly to the sender, not via
// broadcast — the pong is a point-to-point reply, not a fan-out event.
func (h *Hub) replyPong(sub *subscriber) {
	data, err := json.Marshal(Envelope{Type: EventPong, Payload: map[string]any{}, Timestamp: time.Now()})
	if err != nil {
		return
	}
	select {
	case sub.send <- data:
	default:
	}
}
