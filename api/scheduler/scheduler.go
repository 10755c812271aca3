package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/databases"
	"github.com/aett-tours/tours-api/models"
)

// SessionLocker serializes work on a single chat session with message
// submission for that session
type SessionLocker interface {
	LockSession(sessionID string) (unlock func())
}

// Scheduler runs periodic background jobs for the chat service
type Scheduler struct {
	cron        *cron.Cron
	SDB         databases.ChatSessionDatabase
	Broadcaster *realtime.Broadcaster
	// Locker is optional, set it before Start
	Locker SessionLocker

	idleTimeout time.Duration
	now         func() time.Time
}

// NewScheduler creates a new scheduler instance. Sessions without a message for
// longer than idleTimeout are closed by the sweep job.
func NewScheduler(sdb databases.ChatSessionDatabase, b *realtime.Broadcaster, idleTimeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithLocation(time.UTC)),
		SDB:         sdb,
		Broadcaster: b,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Start registers the idle sweep on schedule and starts the cron runner
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, s.sweepIdleSessions)
	if err != nil {
		zap.S().Errorw("failed to register idle session job", "schedule", schedule, "error", err)
		return err
	}

	s.cron.Start()
	zap.S().Infow("Chat scheduler started", "schedule", schedule, "idleTimeout", s.idleTimeout.String())
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Chat scheduler stopped")
}

func (s *Scheduler) sweepIdleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	closed, err := s.CloseIdleSessions(ctx)
	if err != nil {
		zap.S().Errorw("idle session sweep failed", "closed", closed, "error", err)
		return
	}
	zap.S().Infow("idle session sweep finished", "closed", closed)
}

// CloseIdleSessions closes every active session whose last message is older
// than the idle timeout and notifies its live connections. It returns the
// number of sessions it closed.
func (s *Scheduler) CloseIdleSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idleTimeout)

	sessions, err := s.SDB.Find(ctx, bson.M{
		"status":        models.ChatSessionActive,
		"lastMessageAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, session := range sessions {
		if s.closeIdleSession(ctx, session, cutoff) {
			closed++
		}
	}
	return closed, nil
}

// closeIdleSession closes one session found by the sweep. The update re-checks
// status and lastMessageAt, so a session closed by an operator or bumped by a
// new message since the find is left alone.
func (s *Scheduler) closeIdleSession(ctx context.Context, session models.ChatSession, cutoff time.Time) bool {
	if s.Locker != nil {
		unlock := s.Locker.LockSession(session.ID)
		defer unlock()
	}

	res, err := s.SDB.UpdateOne(ctx,
		bson.M{
			"_id":           session.ID,
			"status":        models.ChatSessionActive,
			"lastMessageAt": bson.M{"$lt": cutoff},
		},
		bson.M{"$set": bson.M{"status": models.ChatSessionClosed}},
	)
	if err != nil {
		zap.S().Errorw("failed to close idle session", "sessionId", session.ID, "error", err)
		return false
	}
	if res == nil || res.ModifiedCount == 0 {
		return false
	}

	session.Status = models.ChatSessionClosed
	if s.Broadcaster != nil {
		s.Broadcaster.PublishSessionStatus(session)
	}
	zap.S().Debugw("closed idle session", "sessionId", session.ID, "lastMessageAt", session.LastMessageAt)
	return true
}
