package domain

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled:  {SessionInProgress, SessionCompleted, SessionCancelled},
	SessionInProgress: {SessionCompleted, SessionCancelled},
	SessionCompleted:  {SessionCompleted},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionInProgress, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Cancelled is terminal; completed only accepts a repeated completion.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is one scheduled interview between a candidate and an interviewer.
type Session struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	ApplicationID *uint          `gorm:"index" json:"applicationId,omitempty"`
	CandidateID   string         `gorm:"size:64;not null" json:"candidateId"`
	InterviewerID string         `gorm:"size:64;not null" json:"interviewerId"`
	JobID         *uint          `gorm:"index" json:"jobId,omitempty"`
	ScheduledAt   time.Time      `json:"scheduledAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	EndedAt       *time.Time     `json:"endedAt,omitempty"`
	Status        SessionStatus  `gorm:"size:20;not null;default:'scheduled'" json:"status"`
	Notes         string         `gorm:"type:text" json:"notes"`
	Score         *int           `json:"score,omitempty"`
	Version       int64          `gorm:"not null;default:0" json:"version"`
	Questions     []QuestionItem `gorm:"foreignKey:SessionID;references:ID" json:"questions"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TransitionTo moves the session through its lifecycle.
func (s *Session) TransitionTo(next SessionStatus, now time.Time) error {
	if !next.Valid() {
		return NewValidationError("unknown session status %q", next)
	}
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}

	switch next {
	case SessionInProgress:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case SessionCompleted, SessionCancelled:
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
	}
	s.Status = next
	return nil
}

// Complete marks the session completed with its final score.
func (s *Session) Complete(score int, now time.Time) error {
	if err := s.TransitionTo(SessionCompleted, now); err != nil {
		return err
	}
	s.Score = &score
	return nil
}

// FindItem looks an item up by its item id first, then by question reference.
func (s *Session) FindItem(key string) *QuestionItem {
	return findItem(s.Questions, key)
}

func findItem(items []QuestionItem, key string) *QuestionItem {
	if key == "" {
		return nil
	}
	for i := range items {
		if items[i].ID == key {
			return &items[i]
		}
	}
	for i := range items {
		if items[i].QuestionRef != nil && *items[i].QuestionRef == key {
			return &items[i]
		}
	}
	return nil
}

// FindItem is the slice form of Session.FindItem, used by repositories that
// load items without the parent session.
func FindItem(items []QuestionItem, key string) *QuestionItem {
	return findItem(items, key)
}

// PendingEvaluation returns the items stage two still has to evaluate.
func (s *Session) PendingEvaluation() []QuestionItem {
	var out []QuestionItem
	for _, item := range s.Questions {
		if item.NeedsEvaluation() {
			out = append(out, item)
		}
	}
	return out
}
