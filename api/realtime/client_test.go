package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLiveServer(t *testing.T, r *Registry) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		NewClient(req.URL.Query().Get("sessionId"), ws).Serve(r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var ack Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, EventConnected, ack.Event)
	return conn
}

func TestClient_ServeRegistersUntilPeerCloses(t *testing.T) {
	r := NewRegistry()
	srv := newLiveServer(t, r)

	conn := dial(t, srv, "abc")
	assert.Equal(t, 1, r.Len("abc"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return !r.HasSession("abc") }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ServeUnregistersOnAbruptDisconnect(t *testing.T) {
	r := NewRegistry()
	srv := newLiveServer(t, r)

	conn := dial(t, srv, "abc")
	conn.UnderlyingConn().Close()

	assert.Eventually(t, func() bool { return !r.HasSession("abc") }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ReceivesPublishedEvents(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	srv := newLiveServer(t, r)

	conn := dial(t, srv, "abc")
	delivered := b.Publish("abc", Event{Event: EventNewMessage, Data: map[string]string{"message": "hello"}})
	assert.Equal(t, 1, delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, EventNewMessage, got.Event)
	assert.Equal(t, "hello", got.Data["message"])
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	r := NewRegistry()
	var server *Client
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		server = NewClient("abc", ws)
		close(ready)
		server.Serve(r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	<-ready

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.ErrorIs(t, server.Send([]byte(`{}`)), ErrClientClosed)
	assert.Eventually(t, func() bool { return !r.HasSession("abc") }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_CloseAllEndsLiveConnections(t *testing.T) {
	r := NewRegistry()
	srv := newLiveServer(t, r)
	dial(t, srv, "abc")
	dial(t, srv, "xyz")
	require.Equal(t, 2, r.Sessions())

	r.CloseAll()

	assert.Eventually(t, func() bool { return r.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendQueueFullClosesClient(t *testing.T) {
	// no writer is running, so nothing drains the queue
	c := NewClient("abc", nil)

	for i := 0; i < sendQueueSize; i++ {
		require.NoError(t, c.Send([]byte(`{}`)))
	}

	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientSlow)
	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientClosed)
}

func TestClient_StalledPeerDoesNotBlockPublish(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r)
	srv := newLiveServer(t, r)

	// the peer reads its ack and then never reads again
	dial(t, srv, "abc")
	payload := strings.Repeat("x", 32*1024)

	start := time.Now()
	for i := 0; i < 2000; i++ {
		b.Publish("abc", Event{Event: EventNewMessage, Data: payload})
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Eventually(t, func() bool { return !r.HasSession("abc") }, 5*time.Second, 10*time.Millisecond)
}
