package realtime

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/models"
)

// Event names written to live connections
const (
	EventConnected     = "connected"
	EventNewMessage    = "new_message"
	EventSessionStatus = "session_status"
)

// Event is the envelope every frame sent to a live connection is wrapped in
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Broadcaster delivers events to every connection registered for a session.
// Delivery is best effort: the payload is already persisted, so a failed send
// only means the recipient has to fetch the history.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a broadcaster reading targets from registry
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Publish serializes event once and sends it to every connection registered
// for sessionID at call time. It returns the number of connections that
// accepted the frame.
func (b *Broadcaster) Publish(sessionID string, event Event) int {
	targets := b.registry.BroadcastTargets(sessionID)
	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(event)
	if err != nil {
		zap.S().Errorw("failed to marshal live event",
			"sessionId", sessionID,
			"event", event.Event,
			"error", err)
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			zap.S().Debugw("skipping live connection",
				"sessionId", sessionID,
				"connId", conn.ID(),
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// PublishMessage sends a newly persisted chat message to its session
func (b *Broadcaster) PublishMessage(msg models.ChatMessage) int {
	return b.Publish(msg.SessionID, Event{Event: EventNewMessage, Data: msg})
}

// PublishSessionStatus tells a session's connections its status changed
func (b *Broadcaster) PublishSessionStatus(session models.ChatSession) int {
	return b.Publish(session.ID, Event{Event: EventSessionStatus, Data: session})
}
