package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aett-tours/tours-api/models"
)

func TestBroadcaster_PublishReachesOnlyTheSession(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	a := newFakeConn("a")
	bb := newFakeConn("b")
	c := newFakeConn("c")
	r.Register("abc", a)
	r.Register("abc", bb)
	r.Register("xyz", c)

	msg := models.ChatMessage{
		ID:         "m1",
		SessionID:  "abc",
		SenderType: models.SenderGuest,
		SenderName: "Ana",
		Message:    "Is the island hopping tour available Friday?",
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	delivered := b.PublishMessage(msg)

	assert.Equal(t, 2, delivered)
	require.Len(t, a.received(), 1)
	require.Len(t, bb.received(), 1)
	assert.Empty(t, c.received())

	var got struct {
		Event string             `json:"event"`
		Data  models.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(a.received()[0], &got))
	assert.Equal(t, EventNewMessage, got.Event)
	assert.Equal(t, msg, got.Data)
	assert.Equal(t, a.received()[0], bb.received()[0])
}

func TestBroadcaster_PublishWithoutTargetsIsNoop(t *testing.T) {
	b := NewBroadcaster(NewRegistry())

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, b.Publish("nobody", Event{Event: EventNewMessage}))
	})
}

func TestBroadcaster_FailedTargetDoesNotStopOthers(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	broken := newFakeConn("broken")
	broken.fail = true
	ok := newFakeConn("ok")
	r.Register("abc", broken)
	r.Register("abc", ok)

	delivered := b.Publish("abc", Event{Event: EventNewMessage, Data: "hi"})

	assert.Equal(t, 1, delivered)
	assert.Len(t, ok.received(), 1)
	assert.Empty(t, broken.received())
}

func TestBroadcaster_UnregisteredConnectionGetsNothing(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	a := newFakeConn("a")
	r.Register("abc", a)
	r.Unregister("abc", a)

	assert.Equal(t, 0, b.Publish("abc", Event{Event: EventNewMessage, Data: "hi"}))
	assert.Empty(t, a.received())
}

func TestBroadcaster_UnmarshalableEventIsDropped(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	a := newFakeConn("a")
	r.Register("abc", a)

	assert.Equal(t, 0, b.Publish("abc", Event{Event: "bad", Data: make(chan int)}))
	assert.Empty(t, a.received())
}

func TestBroadcaster_PublishSessionStatus(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	a := newFakeConn("a")
	r.Register("abc", a)

	b.PublishSessionStatus(models.ChatSession{ID: "abc", Status: models.ChatSessionClosed})

	require.Len(t, a.received(), 1)
	assert.Contains(t, string(a.received()[0]), `"event":"session_status"`)
	assert.Contains(t, string(a.received()[0]), `"status":"closed"`)
}
