package stream

import (
	"log"
	"sync"

	"github.com/meetscribe/meetscribe/internal/types"
)

// Subscriber receives live stream events. Implementations wrap whatever
// transport the viewer surface speaks (in practice a websocket connection).
type Subscriber interface {
	Send(ev types.StreamEvent) error
}

// Hub fans live meeting events out from capture surfaces to viewer surfaces.
// It keeps just enough state to replay the in-progress meeting to a viewer
// that subscribes mid-meeting; durability lives in the store, not here.
type Hub struct {
	mu      sync.Mutex
	viewers map[Subscriber]struct{}

	active  bool
	info    *types.StreamEvent
	entries []types.StreamEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{viewers: make(map[Subscriber]struct{})}
}

// Publish records ev in the replay state and broadcasts it to all viewers.
// A viewer whose Send fails is dropped.
func (h *Hub) Publish(ev types.StreamEvent) {
	h.mu.Lock()
	switch ev.Type {
	case types.StreamMeetingStarted:
		h.active = true
		h.info = nil
		h.entries = nil
	case types.StreamMeetingInfo:
		info := ev
		h.info = &info
	case types.StreamTranscriptEntry:
		if h.active {
			h.entries = append(h.entries, ev)
		}
	case types.StreamMeetingEnded:
		h.active = false
		h.info = nil
		h.entries = nil
	default:
		h.mu.Unlock()
		return
	}

	targets := make([]Subscriber, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		if err := v.Send(ev); err != nil {
			log.Printf("Dropping stream subscriber: %v", err)
			h.Unsubscribe(v)
		}
	}
}

// Subscribe registers a viewer. If a meeting is in progress the viewer first
// receives a replay: meeting_started, the latest meeting_info, and every
// transcript entry so far.
func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.viewers[s] = struct{}{}
	active := h.active
	info := h.info
	replay := append([]types.StreamEvent(nil), h.entries...)
	h.mu.Unlock()

	if !active {
		return
	}
	if err := s.Send(types.StreamEvent{Type: types.StreamMeetingStarted}); err != nil {
		h.Unsubscribe(s)
		return
	}
	if info != nil {
		if err := s.Send(*info); err != nil {
			h.Unsubscribe(s)
			return
		}
	}
	for _, ev := range replay {
		if err := s.Send(ev); err != nil {
			h.Unsubscribe(s)
			return
		}
	}
}

// Unsubscribe removes a viewer. Safe to call for unknown subscribers.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.viewers, s)
	h.mu.Unlock()
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}
