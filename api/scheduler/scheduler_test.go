package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/databases/mocks"
	"github.com/aett-tours/tours-api/models"
)

type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, b)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func fixedNow() time.Time {
	return time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
}

func idleFilter(sessionID string) bson.M {
	return bson.M{
		"_id":           sessionID,
		"status":        models.ChatSessionActive,
		"lastMessageAt": bson.M{"$lt": fixedNow().Add(-24 * time.Hour)},
	}
}

type recordingLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	locked []string
}

func (l *recordingLocker) LockSession(sessionID string) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[sessionID] = true
	l.locked = append(l.locked, sessionID)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held[sessionID] = false
	}
}

func (l *recordingLocker) isHeld(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[sessionID]
}

func TestCloseIdleSessions(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	reg := realtime.NewRegistry()
	conn := &recordingConn{id: "guest"}
	reg.Register("s1", conn)

	s := NewScheduler(sdb, realtime.NewBroadcaster(reg), 24*time.Hour)
	s.now = fixedNow

	stale := fixedNow().Add(-30 * time.Hour)
	sdb.On("Find", mock.Anything, bson.M{
		"status":        models.ChatSessionActive,
		"lastMessageAt": bson.M{"$lt": fixedNow().Add(-24 * time.Hour)},
	}).Return([]models.ChatSession{
		{ID: "s1", Status: models.ChatSessionActive, LastMessageAt: stale},
		{ID: "s2", Status: models.ChatSessionActive, LastMessageAt: stale},
	}, nil)
	sdb.On("UpdateOne", mock.Anything,
		idleFilter("s1"),
		bson.M{"$set": bson.M{"status": models.ChatSessionClosed}},
	).Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)
	// closed by an operator between the find and the update
	sdb.On("UpdateOne", mock.Anything,
		idleFilter("s2"),
		mock.Anything,
	).Return(&mongo.UpdateResult{}, nil)

	closed, err := s.CloseIdleSessions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	sdb.AssertExpectations(t)

	require.Len(t, conn.frames, 1)
	var got struct {
		Event string             `json:"event"`
		Data  models.ChatSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(conn.frames[0], &got))
	assert.Equal(t, realtime.EventSessionStatus, got.Event)
	assert.Equal(t, "s1", got.Data.ID)
	assert.Equal(t, models.ChatSessionClosed, got.Data.Status)
}

func TestCloseIdleSessions_FindError(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	s := NewScheduler(sdb, nil, time.Hour)

	sdb.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("mongo down"))

	closed, err := s.CloseIdleSessions(context.Background())

	assert.EqualError(t, err, "mongo down")
	assert.Zero(t, closed)
	sdb.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseIdleSessions_UpdateErrorContinues(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	s := NewScheduler(sdb, nil, 24*time.Hour)
	s.now = fixedNow

	sdb.On("Find", mock.Anything, mock.Anything).Return([]models.ChatSession{
		{ID: "s1", Status: models.ChatSessionActive},
		{ID: "s2", Status: models.ChatSessionActive},
	}, nil)
	sdb.On("UpdateOne", mock.Anything, idleFilter("s1"), mock.Anything).
		Return(nil, errors.New("write conflict"))
	sdb.On("UpdateOne", mock.Anything, idleFilter("s2"), mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	closed, err := s.CloseIdleSessions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestCloseIdleSessions_MessageArrivedAfterFind(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	reg := realtime.NewRegistry()
	conn := &recordingConn{id: "guest"}
	reg.Register("s1", conn)

	s := NewScheduler(sdb, realtime.NewBroadcaster(reg), 24*time.Hour)
	s.now = fixedNow

	sdb.On("Find", mock.Anything, mock.Anything).Return([]models.ChatSession{
		{ID: "s1", Status: models.ChatSessionActive, LastMessageAt: fixedNow().Add(-30 * time.Hour)},
	}, nil)
	// lastMessageAt was bumped past the cutoff, the guarded update matches nothing
	sdb.On("UpdateOne", mock.Anything, idleFilter("s1"), mock.Anything).
		Return(&mongo.UpdateResult{}, nil)

	closed, err := s.CloseIdleSessions(context.Background())

	require.NoError(t, err)
	assert.Zero(t, closed)
	sdb.AssertExpectations(t)
	assert.Empty(t, conn.frames)
}

func TestCloseIdleSessions_HoldsSessionLock(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	locker := &recordingLocker{}
	s := NewScheduler(sdb, nil, 24*time.Hour)
	s.now = fixedNow
	s.Locker = locker

	sdb.On("Find", mock.Anything, mock.Anything).Return([]models.ChatSession{
		{ID: "s1", Status: models.ChatSessionActive},
	}, nil)
	sdb.On("UpdateOne", mock.Anything, idleFilter("s1"), mock.Anything).
		Run(func(args mock.Arguments) {
			assert.True(t, locker.isHeld("s1"), "update ran without the session lock")
		}).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	closed, err := s.CloseIdleSessions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []string{"s1"}, locker.locked)
	assert.False(t, locker.isHeld("s1"))
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&mocks.ChatSessionDatabase{}, nil, time.Hour)

	assert.Error(t, s.Start("not a schedule"))
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&mocks.ChatSessionDatabase{}, nil, time.Hour)

	require.NoError(t, s.Start("@every 1h"))
	assert.NotPanics(t, s.Stop)
}
