// Package memstore keeps every repository in process memory. It backs the
// "memory" database driver for local runs and the use case tests, and follows
// the same per-item and per-version update rules as the MySQL repositories.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"interview-coordinator/domain"
)

type Store struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	applications map[uint]*domain.Application
	jobs         map[uint]*domain.Job
	manualScores map[string]*domain.ManualScore
	evaluations  map[string]*domain.EvaluationResult
	nextID       uint
	now          func() time.Time
}

func New() *Store {
	return &Store{
		sessions:     make(map[string]*domain.Session),
		applications: make(map[uint]*domain.Application),
		jobs:         make(map[uint]*domain.Job),
		manualScores: make(map[string]*domain.ManualScore),
		evaluations:  make(map[string]*domain.EvaluationResult),
		now:          time.Now,
	}
}

func (s *Store) Sessions() domain.SessionRepository         { return sessionRepo{s} }
func (s *Store) Applications() domain.ApplicationRepository { return applicationRepo{s} }
func (s *Store) Jobs() domain.JobRepository                 { return jobRepo{s} }
func (s *Store) Scores() domain.ScoreRepository             { return scoreRepo{s} }

// AddJob stores a job and assigns its id when unset.
func (s *Store) AddJob(job domain.Job) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == 0 {
		job.ID = s.id()
	}
	s.jobs[job.ID] = &job
	return job
}

// AddApplication stores an application and assigns its id when unset.
func (s *Store) AddApplication(app domain.Application) domain.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == 0 {
		app.ID = s.id()
	}
	app.UpdatedAt = s.now()
	s.applications[app.ID] = &app
	return app
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	out.Questions = make([]domain.QuestionItem, len(in.Questions))
	for i, item := range in.Questions {
		out.Questions[i] = cloneItem(item)
	}
	return &out
}

func cloneItem(in domain.QuestionItem) domain.QuestionItem {
	out := in
	if in.Options != nil {
		out.Options = append(out.Options[:0:0], in.Options...)
	}
	return out
}

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(_ context.Context, sess *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.sessions[sess.ID]; exists {
		return fmt.Errorf("%w: session %s exists", domain.ErrConflict, sess.ID)
	}
	now := r.s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.Status == "" {
		sess.Status = domain.SessionScheduled
	}
	r.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (r sessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return cloneSession(sess), nil
}

func (r sessionRepo) AppendQuestions(_ context.Context, sessionID string, items []domain.QuestionItem) ([]domain.QuestionItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}

	known := make(map[string]struct{}, len(sess.Questions))
	for _, q := range sess.Questions {
		if ref := q.Ref(); ref != "" {
			known[ref] = struct{}{}
		}
	}

	now := r.s.now()
	var inserted []domain.QuestionItem
	for _, item := range items {
		if ref := item.Ref(); ref != "" {
			if _, dup := known[ref]; dup {
				continue
			}
			known[ref] = struct{}{}
		}
		item.SessionID = sessionID
		item.Position = len(sess.Questions)
		item.CreatedAt, item.UpdatedAt = now, now
		sess.Questions = append(sess.Questions, cloneItem(item))
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (r sessionRepo) RecordAnswers(_ context.Context, sessionID string, answers []domain.Answer) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}

	if unknown := domain.UnknownAnswers(sess.Questions, answers); len(unknown) > 0 {
		return nil, domain.NewUnknownQuestionError(sessionID, unknown)
	}

	now := r.s.now()
	for _, a := range answers {
		if item := sess.FindItem(a.QuestionID); item.ApplyAnswer(a.Text) {
			item.UpdatedAt = now
		}
	}
	return cloneSession(sess), nil
}

func (r sessionRepo) SaveEvaluation(_ context.Context, sessionID, itemID string, revision int64, eval domain.AnswerEvaluation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	for i := range sess.Questions {
		if sess.Questions[i].ID != itemID {
			continue
		}
		if err := sess.Questions[i].ApplyEvaluation(revision, eval); err != nil {
			return err
		}
		sess.Questions[i].UpdatedAt = r.s.now()
		return nil
	}
	return fmt.Errorf("%w: question item %s", domain.ErrNotFound, itemID)
}

// Update reads the header under the lock, lets mutate run without it and
// writes back only if the version did not move, like the SQL repository.
func (r sessionRepo) Update(_ context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	r.s.mu.Lock()
	current, ok := r.s.sessions[id]
	if !ok {
		r.s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	working := cloneSession(current)
	r.s.mu.Unlock()

	expected := working.Version
	if err := mutate(working); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current = r.s.sessions[id]
	if current.Version != expected {
		return nil, fmt.Errorf("%w: session %s", domain.ErrConflict, id)
	}
	current.Status = working.Status
	current.StartedAt = working.StartedAt
	current.EndedAt = working.EndedAt
	current.Score = working.Score
	current.Notes = working.Notes
	current.Version = expected + 1
	current.UpdatedAt = r.s.now()
	return cloneSession(current), nil
}

type applicationRepo struct{ s *Store }

func (r applicationRepo) Get(_ context.Context, id uint) (*domain.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.applications[id]
	if !ok {
		return nil, fmt.Errorf("%w: application %d", domain.ErrNotFound, id)
	}
	out := *app
	return &out, nil
}

func (r applicationRepo) ListByJob(_ context.Context, jobID uint) ([]domain.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Application
	for _, app := range r.s.applications {
		if app.JobID == jobID {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r applicationRepo) UpdateScoreBreakdown(_ context.Context, id uint, b domain.ScoreBreakdown) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.applications[id]
	if !ok {
		return fmt.Errorf("%w: application %d", domain.ErrNotFound, id)
	}
	app.AIScore, app.ManualScore, app.RankingScore = b.AIScore, b.ManualScore, b.RankingScore
	app.UpdatedAt = r.s.now()
	return nil
}

func (r applicationRepo) BulkUpdateRanking(_ context.Context, updates []domain.RankingUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	failed := make(map[uint]error)
	for _, u := range updates {
		app, ok := r.s.applications[u.ApplicationID]
		if !ok {
			failed[u.ApplicationID] = domain.ErrNotFound
			continue
		}
		app.RankingScore = u.RankingScore
		app.UpdatedAt = r.s.now()
	}
	if len(failed) > 0 {
		return &domain.BulkUpdateError{Failed: failed}
	}
	return nil
}

type jobRepo struct{ s *Store }

func (r jobRepo) Get(_ context.Context, id uint) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	out := *job
	return &out, nil
}

type scoreRepo struct{ s *Store }

func (r scoreRepo) SaveManualScore(_ context.Context, score *domain.ManualScore) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.manualScores[score.SessionID]; exists {
		return fmt.Errorf("%w: manual score for session %s", domain.ErrAlreadyRecorded, score.SessionID)
	}
	score.ID = r.s.id()
	score.CreatedAt = r.s.now()
	stored := *score
	r.s.manualScores[score.SessionID] = &stored
	return nil
}

func (r scoreRepo) ManualScore(_ context.Context, sessionID string) (*domain.ManualScore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	score, ok := r.s.manualScores[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: manual score for session %s", domain.ErrNotFound, sessionID)
	}
	out := *score
	return &out, nil
}

func (r scoreRepo) LatestEvaluationResult(_ context.Context, sessionID string) (*domain.EvaluationResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.evaluations[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: evaluation result for session %s", domain.ErrNotFound, sessionID)
	}
	out := *res
	return &out, nil
}

func (r scoreRepo) SaveEvaluationSnapshot(_ context.Context, sessionID string, snap domain.EvaluationSnapshot) (*domain.EvaluationResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.evaluations[sessionID]
	if !ok {
		res = &domain.EvaluationResult{ID: r.s.id(), SessionID: sessionID, CreatedAt: r.s.now()}
		r.s.evaluations[sessionID] = res
	}
	res.Apply(snap)
	res.UpdatedAt = r.s.now()
	out := *res
	return &out, nil
}
