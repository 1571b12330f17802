package handlers

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/meetscribe/meetscribe/internal/coordinator"
	"github.com/meetscribe/meetscribe/internal/stream"
	"github.com/meetscribe/meetscribe/internal/types"
)

// StreamHandler handles WebSocket streaming connections. Capture agents
// publish live meeting events into the hub; viewers subscribe and receive
// them, with a replay of the in-progress meeting on join. A capture agent's
// connection dropping counts as its tab closing.
type StreamHandler struct {
	hub         *stream.Hub
	coordinator *coordinator.Coordinator
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *stream.Hub, c *coordinator.Coordinator) *StreamHandler {
	return &StreamHandler{hub: hub, coordinator: c}
}

// wsSubscriber adapts a WebSocket connection to the hub. The mutex guards
// concurrent writes from the hub's broadcast and the replay on subscribe.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(ev types.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	connID := uuid.New().String()
	log.Printf("WebSocket connection established: %s", connID)

	// First message declares the peer's role.
	var sub types.SubscribeRequest
	if err := c.ReadJSON(&sub); err != nil {
		log.Printf("WebSocket subscribe read error (%s): %v", connID, err)
		return
	}
	if sub.Type != "subscribe" {
		log.Printf("WebSocket %s sent %q before subscribing, closing", connID, sub.Type)
		return
	}

	switch sub.Source {
	case types.SourceViewer:
		h.serveViewer(c, connID)
	case types.SourceCapture:
		h.serveCapture(c, connID)
		h.captureClosed(sub.TabID)
	default:
		log.Printf("WebSocket %s declared unknown source %q, closing", connID, sub.Source)
	}
}

// serveViewer streams hub events to the connection until it drops. The read
// loop only exists to detect the close.
func (h *StreamHandler) serveViewer(c *websocket.Conn, connID string) {
	viewer := &wsSubscriber{conn: c}
	h.hub.Subscribe(viewer)
	defer h.hub.Unsubscribe(viewer)
	log.Printf("Viewer subscribed: %s (%d active)", connID, h.hub.ViewerCount())

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			log.Printf("Viewer disconnected: %s", connID)
			return
		}
	}
}

// serveCapture reads live meeting events from a remote capture agent and
// publishes them to the hub.
func (h *StreamHandler) serveCapture(c *websocket.Conn, connID string) {
	log.Printf("Capture agent connected: %s", connID)
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("Capture agent disconnected: %s", connID)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ev types.StreamEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("Capture agent %s sent malformed event: %v", connID, err)
			continue
		}
		switch ev.Type {
		case types.StreamMeetingStarted, types.StreamMeetingInfo,
			types.StreamTranscriptEntry, types.StreamMeetingEnded:
			h.hub.Publish(ev)
		default:
			log.Printf("Capture agent %s sent unknown event type %q", connID, ev.Type)
		}
	}
}

// captureClosed runs the tab-closed finalize trigger for a capture agent
// whose connection dropped. A clean end already cleared the binding, in
// which case this is a no-op.
func (h *StreamHandler) captureClosed(tabID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.coordinator.TabClosed(ctx, tabID); err != nil {
		log.Printf("Tab-closed finalize failed: %v", err)
	}
}
