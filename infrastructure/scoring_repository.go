package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interview-coordinator/domain"
)

// rankingWriteConcurrency bounds the parallel single-row updates of a re-ranking.
const rankingWriteConcurrency = 4

type ApplicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) Get(ctx context.Context, id uint) (*domain.Application, error) {
	var app domain.Application
	if err := r.db.WithContext(ctx).First(&app, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("application %d", id))
	}
	return &app, nil
}

func (r *ApplicationRepository) ListByJob(ctx context.Context, jobID uint) ([]domain.Application, error) {
	var apps []domain.Application
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id ASC").Find(&apps).Error
	return apps, err
}

func (r *ApplicationRepository) UpdateScoreBreakdown(ctx context.Context, id uint, b domain.ScoreBreakdown) error {
	return r.db.WithContext(ctx).Model(&domain.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
		"ai_score":      b.AIScore,
		"manual_score":  b.ManualScore,
		"ranking_score": b.RankingScore,
		"updated_at":    nowUTC(),
	}).Error
}

// BulkUpdateRanking issues one autocommitted UPDATE per application. A
// failing row is collected and the rest still commit.
func (r *ApplicationRepository) BulkUpdateRanking(ctx context.Context, updates []domain.RankingUpdate) error {
	var (
		mu     sync.Mutex
		failed = make(map[uint]error)
	)

	var g errgroup.Group
	g.SetLimit(rankingWriteConcurrency)
	for _, u := range updates {
		g.Go(func() error {
			err := r.db.WithContext(ctx).Model(&domain.Application{}).
				Where("id = ?", u.ApplicationID).
				Updates(map[string]interface{}{
					"ranking_score": u.RankingScore,
					"updated_at":    nowUTC(),
				}).Error
			if err != nil {
				mu.Lock()
				failed[u.ApplicationID] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return &domain.BulkUpdateError{Failed: failed}
	}
	return nil
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Get(ctx context.Context, id uint) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("job %d", id))
	}
	return &job, nil
}

type ScoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

func (r *ScoreRepository) SaveManualScore(ctx context.Context, score *domain.ManualScore) error {
	err := r.db.WithContext(ctx).Create(score).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: manual score for session %s", domain.ErrAlreadyRecorded, score.SessionID)
	}
	return err
}

func (r *ScoreRepository) ManualScore(ctx context.Context, sessionID string) (*domain.ManualScore, error) {
	var score domain.ManualScore
	if err := r.db.WithContext(ctx).First(&score, "session_id = ?", sessionID).Error; err != nil {
		return nil, notFound(err, "manual score for session "+sessionID)
	}
	return &score, nil
}

func (r *ScoreRepository) LatestEvaluationResult(ctx context.Context, sessionID string) (*domain.EvaluationResult, error) {
	var res domain.EvaluationResult
	if err := r.db.WithContext(ctx).First(&res, "session_id = ?", sessionID).Error; err != nil {
		return nil, notFound(err, "evaluation result for session "+sessionID)
	}
	return &res, nil
}

// SaveEvaluationSnapshot folds the snapshot into the session's result row
// under a row lock, creating the row on first report.
func (r *ScoreRepository) SaveEvaluationSnapshot(ctx context.Context, sessionID string, snap domain.EvaluationSnapshot) (*domain.EvaluationResult, error) {
	var out domain.EvaluationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "session_id = ?", sessionID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = domain.EvaluationResult{SessionID: sessionID}
		case err != nil:
			return err
		}
		out.Apply(snap)
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
