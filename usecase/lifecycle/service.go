package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
)

// Service moves sessions through scheduled, in-progress, completed and cancelled.
type Service struct {
	sessions domain.SessionRepository
	retries  int
	log      logger.Logger
	now      func() time.Time
}

func NewService(sessions domain.SessionRepository, conflictRetries int, log logger.Logger) *Service {
	return &Service{
		sessions: sessions,
		retries:  conflictRetries,
		log:      log.WithFields(map[string]interface{}{"component": "session-lifecycle"}),
		now:      time.Now,
	}
}

// CreateInput schedules a new interview.
type CreateInput struct {
	CandidateID   string    `json:"candidateId" binding:"required"`
	InterviewerID string    `json:"interviewerId" binding:"required"`
	ApplicationID *uint     `json:"applicationId"`
	JobID         *uint     `json:"jobId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Notes         string    `json:"notes"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Session, error) {
	if strings.TrimSpace(in.CandidateID) == "" || strings.TrimSpace(in.InterviewerID) == "" {
		return nil, domain.NewValidationError("candidateId and interviewerId are required")
	}
	if in.ScheduledAt.IsZero() {
		in.ScheduledAt = s.now()
	}

	sess := &domain.Session{
		ID:            uuid.NewString(),
		ApplicationID: in.ApplicationID,
		CandidateID:   in.CandidateID,
		InterviewerID: in.InterviewerID,
		JobID:         in.JobID,
		ScheduledAt:   in.ScheduledAt.UTC(),
		Status:        domain.SessionScheduled,
		Notes:         in.Notes,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, domain.NewPersistenceError("create session", err)
	}
	return sess, nil
}

// Get returns the full session, the resync source for clients.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// Transition applies an explicit status change, e.g. an admin cancelling.
func (s *Service) Transition(ctx context.Context, id string, next domain.SessionStatus) (*domain.Session, error) {
	var out *domain.Session
	err := domain.RetryOnConflict(ctx, s.retries, func() error {
		sess, err := s.sessions.Update(ctx, id, func(cur *domain.Session) error {
			return cur.TransitionTo(next, s.now())
		})
		if err == nil {
			out = sess
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("session status changed", map[string]interface{}{
		"sessionId": id,
		"status":    out.Status,
	})
	return out, nil
}

// End completes the session. Evaluations still running are not cancelled.
func (s *Service) End(ctx context.Context, id string) (*domain.Session, error) {
	return s.Transition(ctx, id, domain.SessionCompleted)
}

// MarkStarted moves a scheduled session to in-progress once both participants
// are connected. Sessions in any other state are left alone.
func (s *Service) MarkStarted(ctx context.Context, id string) error {
	_, err := s.Transition(ctx, id, domain.SessionInProgress)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	return err
}
