package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api"
	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/config"
	"github.com/aett-tours/tours-api/databases"
	"github.com/aett-tours/tours-api/models"
)

const maxSessionIDLength = 128

// Chat serves the guest/operator chat endpoints. Messages are persisted
// before they are published to the session's live connections.
type Chat struct {
	SDB         databases.ChatSessionDatabase
	MDB         databases.ChatMessageDatabase
	Broadcaster *realtime.Broadcaster

	// optional operator alert on new sessions
	Mailer       Mailer
	AlertEmail   string
	DashboardURL string

	locks sessionLocks
}

// NewChat creates the chat handlers
func NewChat(sdb databases.ChatSessionDatabase, mdb databases.ChatMessageDatabase, b *realtime.Broadcaster) *Chat {
	return &Chat{
		SDB:         sdb,
		MDB:         mdb,
		Broadcaster: b,
	}
}

// LockSession blocks until no submission or status change is in flight for
// sessionID and holds it off until unlock is called
func (c *Chat) LockSession(sessionID string) (unlock func()) {
	return c.locks.lock(sessionID)
}

// Routes mounts the chat endpoints, operatorOnly guards the admin dashboard ones
func (c *Chat) Routes(r *mux.Router, operatorOnly func(http.Handler) http.Handler) {
	r.Handle("/chat/sessions", http.HandlerFunc(c.CreateChatSessionHandler)).Methods("POST")
	r.Handle("/chat/sessions", operatorOnly(http.HandlerFunc(c.ListChatSessionsHandler))).Methods("GET")
	r.Handle("/chat/sessions/{session_id}", http.HandlerFunc(c.ChatSessionHandler)).Methods("GET")
	r.Handle("/chat/sessions/{session_id}/messages", http.HandlerFunc(c.ChatMessagesHandler)).Methods("GET")
	r.Handle("/chat/sessions/{session_id}/status", operatorOnly(http.HandlerFunc(c.UpdateChatSessionStatusHandler))).Methods("PATCH")
	r.Handle("/chat/sessions/{session_id}/transcript.xlsx", operatorOnly(http.HandlerFunc(c.ChatTranscriptHandler))).Methods("GET")
	r.Handle("/chat/messages", http.HandlerFunc(c.CreateChatMessageHandler)).Methods("POST")
}

// CreateChatSessionHandler opens a new conversation for a guest
func (c *Chat) CreateChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatSessionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxSessionIDLength {
		config.ErrorStatus("invalid session id", http.StatusBadRequest, w, fmt.Errorf("id longer than %d characters", maxSessionIDLength))
		return
	}
	email := strings.TrimSpace(req.GuestEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			config.ErrorStatus("invalid guest email", http.StatusBadRequest, w, err)
			return
		}
	}

	now := time.Now().UTC()
	session := models.ChatSession{
		ID:            id,
		GuestName:     strings.TrimSpace(req.GuestName),
		GuestEmail:    email,
		Status:        models.ChatSessionActive,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := c.SDB.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			config.ErrorStatus("chat session already exists", http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to create chat session", http.StatusInternalServerError, w, err)
		return
	}

	if c.Mailer != nil && c.AlertEmail != "" {
		go c.sendNewSessionAlert(session)
	}

	writeJSON(w, http.StatusCreated, session)
}

// ChatSessionHandler returns a single chat session
func (c *Chat) ChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	session, err := c.SDB.FindOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		sessionLookupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ListChatSessionsHandler lists conversations for the admin dashboard, most
// recently active first
func (c *Chat) ListChatSessionsHandler(w http.ResponseWriter, r *http.Request) {
	filter := bson.M{}
	if status := r.URL.Query().Get("status"); status != "" {
		if status != models.ChatSessionActive && status != models.ChatSessionClosed {
			config.ErrorStatus("invalid status filter", http.StatusBadRequest, w, fmt.Errorf("unknown status %q", status))
			return
		}
		filter["status"] = status
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	sessions, err := c.SDB.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}}))
	if err != nil {
		config.ErrorStatus("failed to get chat sessions", http.StatusInternalServerError, w, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// UpdateChatSessionStatusHandler closes a conversation. Status only moves
// from active to closed.
func (c *Chat) UpdateChatSessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	var req models.UpdateChatSessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Status != models.ChatSessionActive && req.Status != models.ChatSessionClosed {
		config.ErrorStatus("invalid status", http.StatusBadRequest, w, fmt.Errorf("unknown status %q", req.Status))
		return
	}

	unlock := c.locks.lock(sessionID)
	defer unlock()

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	session, err := c.SDB.FindOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		sessionLookupError(w, err)
		return
	}
	if session.Status == req.Status {
		writeJSON(w, http.StatusOK, session)
		return
	}
	if session.Status == models.ChatSessionClosed {
		config.ErrorStatus("chat session is closed", http.StatusConflict, w, errors.New("closed sessions cannot be reopened"))
		return
	}

	_, err = c.SDB.UpdateOne(ctx,
		bson.M{"_id": sessionID, "status": models.ChatSessionActive},
		bson.M{"$set": bson.M{"status": models.ChatSessionClosed}})
	if err != nil {
		config.ErrorStatus("failed to update chat session", http.StatusInternalServerError, w, err)
		return
	}
	session.Status = models.ChatSessionClosed

	operator := ""
	if info, ok := api.OperatorFromContext(r.Context()); ok {
		operator = info.UserName()
	}
	zap.S().Infow("chat session closed",
		"sessionId", sessionID,
		"operator", operator,
		"requestId", api.RequestIDFromContext(r.Context()))

	c.Broadcaster.PublishSessionStatus(*session)
	writeJSON(w, http.StatusOK, session)
}

// ChatMessagesHandler returns a session's history oldest first. Without a
// limit every message is returned.
func (c *Chat) ChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		config.ErrorStatus("invalid limit", http.StatusBadRequest, w, fmt.Errorf("limit must be a positive number"))
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		config.ErrorStatus("invalid page", http.StatusBadRequest, w, fmt.Errorf("page must be a positive number"))
		return
	}
	if limit > 0 && page > math.MaxInt/limit {
		config.ErrorStatus("invalid page", http.StatusBadRequest, w, fmt.Errorf("page %d is out of range for limit %d", page, limit))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := c.SDB.FindOne(ctx, bson.M{"_id": sessionID}); err != nil {
		sessionLookupError(w, err)
		return
	}

	filter := bson.M{"sessionId": sessionID}

	type findResult struct {
		messages []models.ChatMessage
		err      error
	}
	type countResult struct {
		count int64
		err   error
	}

	findChan := make(chan findResult, 1)
	countChan := make(chan countResult, 1)

	go func() {
		messages, err := c.MDB.Find(ctx, filter, databases.ChronologicalOpts(limit, page))
		findChan <- findResult{messages: messages, err: err}
	}()

	go func() {
		count, err := c.MDB.CountDocuments(ctx, filter)
		countChan <- countResult{count: count, err: err}
	}()

	findRes := <-findChan
	countRes := <-countChan

	if findRes.err != nil {
		config.ErrorStatus("failed to get chat messages", http.StatusInternalServerError, w, findRes.err)
		return
	}

	messages := findRes.messages
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	totalCount := countRes.count
	if countRes.err != nil {
		totalCount = int64(len(messages))
	}

	totalPages := 0
	switch {
	case limit > 0:
		totalPages = int(math.Ceil(float64(totalCount) / float64(limit)))
	case totalCount > 0:
		totalPages = 1
	}

	writeJSON(w, http.StatusOK, models.ChatMessagePage{
		Data:       messages,
		Page:       page,
		Limit:      limit,
		TotalCount: totalCount,
		TotalPages: totalPages,
	})
}

// CreateChatMessageHandler persists a message and then publishes it to the
// session's live connections. Nothing is published unless the insert succeeded.
func (c *Chat) CreateChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	msg, err := newChatMessage(req)
	if err != nil {
		config.ErrorStatus("invalid chat message", http.StatusBadRequest, w, err)
		return
	}

	// submissions for one session are serialized so the broadcast order
	// matches the persisted order
	unlock := c.locks.lock(msg.SessionID)
	defer unlock()

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	session, err := c.SDB.FindOne(ctx, bson.M{"_id": msg.SessionID})
	if err != nil {
		sessionLookupError(w, err)
		return
	}
	if session.Status == models.ChatSessionClosed {
		config.ErrorStatus("chat session is closed", http.StatusConflict, w, errors.New("messages cannot be added to a closed session"))
		return
	}

	if err := stampChatMessage(&msg); err != nil {
		config.ErrorStatus("failed to post chat message", http.StatusInternalServerError, w, err)
		return
	}
	if _, err := c.MDB.InsertOne(ctx, msg); err != nil {
		config.ErrorStatus("failed to post chat message", http.StatusInternalServerError, w, err)
		return
	}

	// the message is durable at this point, a failed bump is only logged
	if _, err := c.SDB.UpdateOne(ctx,
		bson.M{"_id": msg.SessionID},
		bson.M{"$set": bson.M{"lastMessageAt": msg.CreatedAt}}); err != nil {
		zap.S().Warnw("failed to bump chat session lastMessageAt",
			"sessionId", msg.SessionID,
			"error", err)
	}

	delivered := c.Broadcaster.PublishMessage(msg)
	zap.S().Debugw("chat message published",
		"sessionId", msg.SessionID,
		"messageId", msg.ID,
		"delivered", delivered,
		"requestId", api.RequestIDFromContext(r.Context()))

	writeJSON(w, http.StatusCreated, msg)
}

// newChatMessage validates a submission and builds the record to persist
func newChatMessage(req models.CreateChatMessageRequest) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		SessionID:  strings.TrimSpace(req.SessionID),
		SenderType: strings.TrimSpace(req.SenderType),
		SenderName: strings.TrimSpace(req.SenderName),
		Message:    strings.TrimSpace(req.Message),
		OperatorID: strings.TrimSpace(req.OperatorID),
	}

	switch {
	case msg.SessionID == "":
		return msg, errors.New("sessionId is required")
	case msg.SenderType != models.SenderGuest && msg.SenderType != models.SenderOperator:
		return msg, fmt.Errorf("senderType must be %q or %q", models.SenderGuest, models.SenderOperator)
	case msg.SenderName == "":
		return msg, errors.New("senderName is required")
	case msg.Message == "":
		return msg, errors.New("message is required")
	case msg.OperatorID != "" && msg.SenderType != models.SenderOperator:
		return msg, errors.New("operatorId is only allowed for operator messages")
	}
	return msg, nil
}

// stampChatMessage assigns the id and creation time. It runs under the session
// lock so id order, createdAt order and broadcast order agree.
func stampChatMessage(msg *models.ChatMessage) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	msg.ID = id.String()
	msg.CreatedAt = time.Now().UTC()
	return nil
}

func sessionLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("chat session not found", http.StatusNotFound, w, err)
		return
	}
	config.ErrorStatus("failed to get chat session", http.StatusInternalServerError, w, err)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// sessionLocks hands out one mutex per session id, dropped once nobody holds
// or waits on it. The zero value is ready to use.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
