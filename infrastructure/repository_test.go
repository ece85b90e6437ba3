package infrastructure

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"interview-coordinator/domain"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func TestSaveEvaluation(t *testing.T) {
	score := 8.0
	eval := domain.AnswerEvaluation{Score: &score, Feedback: "solid"}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "matching revision",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE `question_items` SET").WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "answer changed since dispatch",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE `question_items` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT count\\(\\*\\) FROM `question_items`").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
			},
			wantErr: domain.ErrStaleEvaluation,
		},
		{
			name: "unknown item",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE `question_items` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT count\\(\\*\\) FROM `question_items`").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setup(mock)

			err := NewSessionRepository(db).SaveEvaluation(context.Background(), "s1", "item-1", 2, eval)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSessionUpdate_DetectsConcurrentWrite(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `sessions` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "version"}).AddRow("s1", "scheduled", 3))
	mock.ExpectExec("UPDATE `sessions` SET").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewSessionRepository(db).Update(context.Background(), "s1", func(s *domain.Session) error {
		assert.Equal(t, int64(3), s.Version)
		return s.Complete(75, nowUTC())
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpdate_MutateErrorSkipsWrite(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `sessions`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "version"}).AddRow("s1", "cancelled", 1))

	_, err := NewSessionRepository(db).Update(context.Background(), "s1", func(s *domain.Session) error {
		return s.TransitionTo(domain.SessionCompleted, nowUTC())
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendQuestions_SkipsStoredReferences(t *testing.T) {
	db, mock := newMockDB(t)

	q1, err := domain.NewTextQuestion("q1", "Explain goroutines")
	require.NoError(t, err)
	q2, err := domain.NewTextQuestion("q2", "Explain channels")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `sessions` WHERE id = \\?.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `question_items`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO `question_items`.*ON DUPLICATE KEY UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `question_items`.*ON DUPLICATE KEY UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := NewSessionRepository(db).AppendQuestions(context.Background(), "s1", []domain.QuestionItem{q1, q2})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "q2", inserted[0].Ref())
	assert.Equal(t, 1, inserted[0].Position)
	assert.Equal(t, "s1", inserted[0].SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendQuestions_UnknownSession(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `sessions`").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := NewSessionRepository(db).AppendQuestions(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdateRanking_IsolatesFailures(t *testing.T) {
	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec("UPDATE `applications` SET").
		WithArgs(50.0, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `applications` SET").
		WithArgs(80.0, sqlmock.AnyArg(), 2).
		WillReturnError(errors.New("lock wait timeout exceeded"))
	mock.ExpectExec("UPDATE `applications` SET").
		WithArgs(12.5, sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewApplicationRepository(db).BulkUpdateRanking(context.Background(), []domain.RankingUpdate{
		{ApplicationID: 1, RankingScore: 50},
		{ApplicationID: 2, RankingScore: 80},
		{ApplicationID: 3, RankingScore: 12.5},
	})

	var bulk *domain.BulkUpdateError
	require.ErrorAs(t, err, &bulk)
	assert.Len(t, bulk.Failed, 1)
	assert.Contains(t, bulk.Failed, uint(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobGet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `jobs`").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewJobRepository(db).Get(context.Background(), 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveManualScore_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO `manual_scores`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 's1' for key 'session_id'"})

	err := NewScoreRepository(db).SaveManualScore(context.Background(), &domain.ManualScore{SessionID: "s1", Technical: 70})
	assert.ErrorIs(t, err, domain.ErrAlreadyRecorded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAnswers_UnknownQuestion(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `question_items`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "question_ref", "status"}).
			AddRow("item-1", "s1", "q1", "pending"))
	mock.ExpectQuery("SELECT `id` FROM `sessions`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectRollback()

	_, err := NewSessionRepository(db).RecordAnswers(context.Background(), "s1", []domain.Answer{
		{QuestionID: "q1", Text: "a"},
		{QuestionID: "q2", Text: "b"},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownQuestion)
	assert.ErrorContains(t, err, "q2")
	assert.NoError(t, mock.ExpectationsWereMet())
}
