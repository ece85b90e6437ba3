package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interview-coordinator/domain"
)

// SessionRepository stores sessions in MySQL with one row per question item,
// so that concurrent writers never rewrite each other's items.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.Status == "" {
		s.Status = domain.SessionScheduled
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: session %s exists", domain.ErrConflict, s.ID)
		}
		return err
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *SessionRepository) get(db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	err := db.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&s, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "session "+id)
	}
	return &s, nil
}

// AppendQuestions relies on the (session_id, question_ref) unique index:
// rows whose reference already exists are skipped by the database.
func (r *SessionRepository) AppendQuestions(ctx context.Context, sessionID string, items []domain.QuestionItem) ([]domain.QuestionItem, error) {
	var inserted []domain.QuestionItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header domain.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").First(&header, "id = ?", sessionID).Error; err != nil {
			return notFound(err, "session "+sessionID)
		}

		var next int64
		if err := tx.Model(&domain.QuestionItem{}).Where("session_id = ?", sessionID).Count(&next).Error; err != nil {
			return err
		}

		for _, item := range items {
			item.SessionID = sessionID
			item.Position = int(next)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&item)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			next++
			inserted = append(inserted, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// RecordAnswers locks the session's items, applies each answer to its own
// row and returns the session as committed.
func (r *SessionRepository) RecordAnswers(ctx context.Context, sessionID string, answers []domain.Answer) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []domain.QuestionItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID).Order("position ASC").Find(&items).Error; err != nil {
			return err
		}

		if unknown := domain.UnknownAnswers(items, answers); len(unknown) > 0 {
			if err := tx.Select("id").First(&domain.Session{}, "id = ?", sessionID).Error; err != nil {
				return notFound(err, "session "+sessionID)
			}
			return domain.NewUnknownQuestionError(sessionID, unknown)
		}

		now := nowUTC()
		for _, a := range answers {
			item := domain.FindItem(items, a.QuestionID)
			if !item.ApplyAnswer(a.Text) {
				continue
			}
			err := tx.Model(&domain.QuestionItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
				"candidate_answer":              item.CandidateAnswer,
				"status":                        item.Status,
				"revision":                      item.Revision,
				"evaluation_score":              item.Evaluation.Score,
				"evaluation_feedback":           item.Evaluation.Feedback,
				"evaluation_technical_accuracy": item.Evaluation.TechnicalAccuracy,
				"evaluation_evaluated_at":       item.Evaluation.EvaluatedAt,
				"updated_at":                    now,
			}).Error
			if err != nil {
				return err
			}
		}

		sess, err := r.get(tx, sessionID)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEvaluation is a single conditional UPDATE: it matches only while the
// item is still submitted at the revision the evaluation was computed for.
func (r *SessionRepository) SaveEvaluation(ctx context.Context, sessionID, itemID string, revision int64, eval domain.AnswerEvaluation) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.QuestionItem{}).
		Where("id = ? AND session_id = ? AND revision = ? AND status = ?", itemID, sessionID, revision, domain.ItemSubmitted).
		Updates(map[string]interface{}{
			"evaluation_score":              eval.Score,
			"evaluation_feedback":           eval.Feedback,
			"evaluation_technical_accuracy": eval.TechnicalAccuracy,
			"evaluation_evaluated_at":       eval.EvaluatedAt,
			"status":                        domain.ItemEvaluated,
			"updated_at":                    nowUTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&domain.QuestionItem{}).Where("id = ? AND session_id = ?", itemID, sessionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: question item %s", domain.ErrNotFound, itemID)
	}
	return domain.ErrStaleEvaluation
}

// Update writes the header columns back only if version is unchanged.
func (r *SessionRepository) Update(ctx context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	db := r.db.WithContext(ctx)

	var s domain.Session
	if err := db.First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "session "+id)
	}
	expected := s.Version
	if err := mutate(&s); err != nil {
		return nil, err
	}

	res := db.Model(&domain.Session{}).
		Where("id = ? AND version = ?", id, expected).
		Updates(map[string]interface{}{
			"status":     s.Status,
			"started_at": s.StartedAt,
			"ended_at":   s.EndedAt,
			"score":      s.Score,
			"notes":      s.Notes,
			"version":    expected + 1,
			"updated_at": nowUTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: session %s", domain.ErrConflict, id)
	}
	return r.Get(ctx, id)
}
