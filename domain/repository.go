package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SessionRepository persists sessions and their question items. Every write
// touches only the rows and columns it changes; session header fields are
// guarded by Version.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// AppendQuestions inserts the items whose question reference is not yet
	// stored for the session and returns the ones it inserted.
	AppendQuestions(ctx context.Context, sessionID string, items []QuestionItem) ([]QuestionItem, error)
	// RecordAnswers applies the answers item by item and returns the fresh session.
	RecordAnswers(ctx context.Context, sessionID string, answers []Answer) (*Session, error)
	// SaveEvaluation writes one item's evaluation if its answer is still at revision.
	SaveEvaluation(ctx context.Context, sessionID, itemID string, revision int64, eval AnswerEvaluation) error
	// Update applies mutate to the session header and writes it back only if
	// no one else did in between. It returns ErrConflict otherwise.
	Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)
}

type ApplicationRepository interface {
	Get(ctx context.Context, id uint) (*Application, error)
	ListByJob(ctx context.Context, jobID uint) ([]Application, error)
	UpdateScoreBreakdown(ctx context.Context, id uint, b ScoreBreakdown) error
	// BulkUpdateRanking writes every update independently. Failures are
	// reported through *BulkUpdateError and never roll back siblings.
	BulkUpdateRanking(ctx context.Context, updates []RankingUpdate) error
}

type JobRepository interface {
	Get(ctx context.Context, id uint) (*Job, error)
}

type ScoreRepository interface {
	SaveManualScore(ctx context.Context, score *ManualScore) error
	ManualScore(ctx context.Context, sessionID string) (*ManualScore, error)
	LatestEvaluationResult(ctx context.Context, sessionID string) (*EvaluationResult, error)
	SaveEvaluationSnapshot(ctx context.Context, sessionID string, snap EvaluationSnapshot) (*EvaluationResult, error)
}

// BulkUpdateError lists the applications whose ranking write failed.
type BulkUpdateError struct {
	Failed map[uint]error
}

func (e *BulkUpdateError) Error() string {
	ids := make([]uint, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("application %d: %v", id, e.Failed[id]))
	}
	return "ranking update failed for " + strings.Join(parts, "; ")
}
