// Package fanout delivers live events to connected proctor subscribers.
// Two independent topics: a global status feed (liveness heartbeat for
// every processed batch) and per-session alert rooms. Delivery is
// best-effort, at-most-once; durability comes from the persisted alert
// record, never from the hub.
package fanout

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event type tags carried on the wire to subscribers.
const (
	TypeStatus = "status"
	TypeAlert  = "new_alert"
)

// StatusEvent is the liveness heartbeat published for every processed
// batch, actionable or not. Subscribers use it to distinguish a quiet
// examinee from a dropped connection.
type StatusEvent struct {
	SessionID  string    `json:"session_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	SceneName  string    `json:"scene_name,omitempty"`
	Outcome    string    `json:"outcome"`
	Prediction string    `json:"prediction,omitempty"`
	Confidence float64   `json:"confidence"`
	Severity   string    `json:"severity,omitempty"`
	RiskLevel  string    `json:"risk_level"`
	Signals    []string  `json:"signals,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertEvent mirrors the persisted cheating event and is published to a
// session's room only after the insert succeeded.
type AlertEvent struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	EventType       string    `json:"event_type"`
	Severity        string    `json:"severity"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Details         string    `json:"details"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Event is what a subscriber receives. Exactly one of Status/Alert is set.
type Event struct {
	Type   string       `json:"type"`
	Status *StatusEvent `json:"status,omitempty"`
	Alert  *AlertEvent  `json:"alert,omitempty"`
}

// DefaultBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events.
const DefaultBuffer = 16

// Subscription is one subscriber's receive handle.
type Subscription struct {
	id        uint64
	sessionID string // "" for status-only subscriptions
	ch        chan Event
}

// C returns the receive channel. It is closed when the subscription is
// removed via Leave.
func (s *Subscription) C() <-chan Event { return s.ch }

// Hub is the in-process publish layer.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	status map[uint64]*Subscription            // global status topic
	rooms  map[string]map[uint64]*Subscription // session-scoped alert rooms
	buffer int
	logger *zap.Logger
}

// NewHub creates a Hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		status: make(map[uint64]*Subscription),
		rooms:  make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Join registers a subscriber. Every subscriber receives the global
// status feed; a non-empty sessionID additionally joins that session's
// alert room.
func (h *Hub) Join(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:        h.nextID,
		sessionID: sessionID,
		ch:        make(chan Event, h.buffer),
	}
	h.status[sub.id] = sub
	if sessionID != "" {
		room, ok := h.rooms[sessionID]
		if !ok {
			room = make(map[uint64]*Subscription)
			h.rooms[sessionID] = room
		}
		room[sub.id] = sub
	}
	return sub
}

// Leave removes a subscriber and closes its channel. Safe to call once
// per subscription.
func (h *Hub) Leave(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.status[sub.id]; !ok {
		return
	}
	delete(h.status, sub.id)
	if sub.sessionID != "" {
		if room, ok := h.rooms[sub.sessionID]; ok {
			delete(room, sub.id)
			if len(room) == 0 {
				delete(h.rooms, sub.sessionID)
			}
		}
	}
	close(sub.ch)
}

// PublishStatus broadcasts a heartbeat to every subscriber.
func (h *Hub) PublishStatus(ev StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Event{Type: TypeStatus, Status: &ev}
	for _, sub := range h.status {
		h.send(sub, msg)
	}
}

// PublishAlert delivers an alert to the session's room only. An empty
// room is a no-op, never an error.
func (h *Hub) PublishAlert(sessionID string, ev AlertEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	msg := Event{Type: TypeAlert, Alert: &ev}
	for _, sub := range room {
		h.send(sub, msg)
	}
}

// send is non-blocking: a full subscriber buffer drops the event rather
// than stalling the pipeline.
func (h *Hub) send(sub *Subscription, msg Event) {
	select {
	case sub.ch <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("fanout subscriber buffer full, dropping event",
				zap.String("session_id", sub.sessionID),
				zap.String("event_type", msg.Type),
			)
		}
	}
}
