package handlers_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aett-tours/tours-api/api/handlers"
	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/databases"
	mocksdb "github.com/aett-tours/tours-api/databases/mocks"
	"github.com/aett-tours/tours-api/models"
)

// memMessages keeps chat messages in insertion order
type memMessages struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

func (m *memMessages) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID := filter.(bson.M)["sessionId"]
	var out []models.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	found, _ := m.Find(ctx, filter)
	return int64(len(found)), nil
}

func (m *memMessages) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, document.(models.ChatMessage))
	return nil, nil
}

type liveChat struct {
	srv      *httptest.Server
	registry *realtime.Registry
	messages *memMessages
}

func newLiveChat(t *testing.T) liveChat {
	t.Helper()
	sdb := &mocksdb.ChatSessionDatabase{}
	sdb.On("FindOne", mock.Anything, mock.Anything).Return(func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *models.ChatSession {
		return activeSession(filter.(bson.M)["_id"].(string))
	}, nil)
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	reg := realtime.NewRegistry()
	store := &memMessages{}
	chat := handlers.NewChat(sdb, store, realtime.NewBroadcaster(reg))
	socket := handlers.ChatSocket{Registry: reg}

	r := mux.NewRouter()
	r.HandleFunc("/ws/chat", socket.ChatSocketHandler).Methods("GET")
	chat.Routes(r.PathPrefix("/api/v1").Subrouter(), func(h http.Handler) http.Handler { return h })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return liveChat{srv: srv, registry: reg, messages: store}
}

func (l liveChat) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(l.srv.URL, "http") + "/ws/chat?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var ack realtime.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, realtime.EventConnected, ack.Event)
	return conn
}

func (l liveChat) history(t *testing.T, sessionID string) []models.ChatMessage {
	t.Helper()
	resp, err := http.Get(l.srv.URL + "/api/v1/chat/sessions/" + sessionID + "/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page models.ChatMessagePage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	return page.Data
}

func (l liveChat) post(t *testing.T, sessionID, text string) models.ChatMessage {
	t.Helper()
	body := `{"sessionId":"` + sessionID + `","senderType":"guest","senderName":"Ana","message":"` + text + `"}`
	resp, err := http.Post(l.srv.URL+"/api/v1/chat/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg models.ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	return msg
}

func readMessage(t *testing.T, conn *websocket.Conn) models.ChatMessage {
	t.Helper()
	var frame struct {
		Event string             `json:"event"`
		Data  models.ChatMessage `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, realtime.EventNewMessage, frame.Event)
	return frame.Data
}

func assertNothingReceived(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestChatSocket_MessagesReachOnlyTheirSession(t *testing.T) {
	l := newLiveChat(t)
	a := l.dial(t, "abc")
	b := l.dial(t, "abc")
	c := l.dial(t, "xyz")

	sent := l.post(t, "abc", "hello")

	assert.Equal(t, sent, readMessage(t, a))
	assert.Equal(t, sent, readMessage(t, b))
	assertNothingReceived(t, a)
	assertNothingReceived(t, c)
}

func TestChatSocket_BroadcastOrderMatchesSubmitOrder(t *testing.T) {
	l := newLiveChat(t)
	a := l.dial(t, "abc")

	first := l.post(t, "abc", "first")
	second := l.post(t, "abc", "second")

	assert.Equal(t, first.ID, readMessage(t, a).ID)
	assert.Equal(t, second.ID, readMessage(t, a).ID)
}

func TestChatSocket_DisconnectDoesNotLoseMessages(t *testing.T) {
	l := newLiveChat(t)
	a := l.dial(t, "abc")
	b := l.dial(t, "abc")

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool { return l.registry.Len("abc") == 1 }, 2*time.Second, 10*time.Millisecond)

	sent := l.post(t, "abc", "anyone there?")
	assert.Equal(t, sent, readMessage(t, b))

	history := l.history(t, "abc")
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)
}

func TestChatSocket_OnlyClientGoneMessageKeptInHistory(t *testing.T) {
	l := newLiveChat(t)
	a := l.dial(t, "abc")

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool { return !l.registry.HasSession("abc") }, 2*time.Second, 10*time.Millisecond)

	sent := l.post(t, "abc", "are you still there?")
	assert.Equal(t, 0, l.registry.Len("abc"))

	history := l.history(t, "abc")
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)
	assert.Equal(t, "are you still there?", history[0].Message)
}

func TestChatSocket_StalledPeerDoesNotDelaySubmissions(t *testing.T) {
	l := newLiveChat(t)
	// reads its ack and then stops reading
	l.dial(t, "abc")
	reader := l.dial(t, "abc")

	const total = 200
	text := strings.Repeat("x", 32*1024)

	received := make(chan string, total)
	go func() {
		for i := 0; i < total; i++ {
			var frame struct {
				Data models.ChatMessage `json:"data"`
			}
			_ = reader.SetReadDeadline(time.Now().Add(10 * time.Second))
			if err := reader.ReadJSON(&frame); err != nil {
				close(received)
				return
			}
			received <- frame.Data.ID
		}
		close(received)
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/10; i++ {
				body := `{"sessionId":"abc","senderType":"guest","senderName":"Ana","message":"` + text + `"}`
				resp, err := http.Post(l.srv.URL+"/api/v1/chat/messages", "application/json", strings.NewReader(body))
				if !assert.NoError(t, err) {
					return
				}
				resp.Body.Close()
				assert.Equal(t, http.StatusCreated, resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)

	var order []string
	for id := range received {
		order = append(order, id)
	}
	stored, err := l.messages.Find(context.Background(), bson.M{"sessionId": "abc"})
	require.NoError(t, err)
	require.Len(t, order, total)
	for i, msg := range stored {
		assert.Equal(t, msg.ID, order[i])
	}
}

func TestChatSocket_LastDisconnectRemovesSession(t *testing.T) {
	l := newLiveChat(t)
	a := l.dial(t, "abc")
	assert.True(t, l.registry.HasSession("abc"))

	require.NoError(t, a.Close())

	assert.Eventually(t, func() bool { return !l.registry.HasSession("abc") }, 2*time.Second, 10*time.Millisecond)
}

func TestChatSocket_MissingSessionIDRejected(t *testing.T) {
	l := newLiveChat(t)

	for _, query := range []string{"", "?sessionId=", "?sessionId=%20%20"} {
		url := "ws" + strings.TrimPrefix(l.srv.URL, "http") + "/ws/chat" + query
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if conn != nil {
			conn.Close()
		}
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, 0, l.registry.Sessions())
}
