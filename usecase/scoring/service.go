package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/metrics"
)

// RankingCache keeps the sorted candidate list of a job for ranking views.
type RankingCache interface {
	StoreRanking(ctx context.Context, jobID uint, ranked []domain.RankedApplication) error
	Ranking(ctx context.Context, jobID uint) ([]domain.RankedApplication, bool, error)
}

// ManualScoreInput is the interviewer's rating.
type ManualScoreInput struct {
	Technical      float64 `json:"technical"`
	Communication  float64 `json:"communication"`
	ProblemSolving float64 `json:"problemSolving"`
	Comments       string  `json:"comments"`
}

// Outcome reports what recording a manual score changed.
type Outcome struct {
	Session       *domain.Session     `json:"session"`
	ManualAverage float64             `json:"manualAverage"`
	FinalScore    int                 `json:"finalScore"`
	Application   *domain.Application `json:"application,omitempty"`
}

type Service struct {
	sessions     domain.SessionRepository
	applications domain.ApplicationRepository
	jobs         domain.JobRepository
	scores       domain.ScoreRepository
	cache        RankingCache
	retries      int
	log          logger.Logger
	now          func() time.Time
}

func NewService(
	sessions domain.SessionRepository,
	applications domain.ApplicationRepository,
	jobs domain.JobRepository,
	scores domain.ScoreRepository,
	cache RankingCache,
	conflictRetries int,
	log logger.Logger,
) *Service {
	return &Service{
		sessions:     sessions,
		applications: applications,
		jobs:         jobs,
		scores:       scores,
		cache:        cache,
		retries:      conflictRetries,
		log:          log.WithFields(map[string]interface{}{"component": "scoring"}),
		now:          time.Now,
	}
}

// RecordManualScore stores the rating, pushes the combined score to the
// owning application and then completes the session. The session is written
// last, so a recording that failed half way is resumed by the next call with
// the stored rating; once the session carries its score the rating counts as
// recorded.
func (s *Service) RecordManualScore(ctx context.Context, sessionID string, in ManualScoreInput) (*Outcome, error) {
	for name, v := range map[string]float64{
		"technical":      in.Technical,
		"communication":  in.Communication,
		"problemSolving": in.ProblemSolving,
	} {
		if !validSubScore(v) {
			return nil, domain.NewValidationError("%s must be between 0 and 100", name)
		}
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.CanTransitionTo(domain.SessionCompleted) {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidTransition, sessionID, sess.Status)
	}

	manual, err := s.saveManualScore(ctx, sess, in)
	if err != nil {
		return nil, err
	}

	avg := manual.Average()
	result, err := s.latestResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	final := SessionScore(avg, result)

	var app *domain.Application
	if sess.ApplicationID != nil {
		if app, err = s.propagate(ctx, *sess.ApplicationID, sessionID, avg, final); err != nil {
			return nil, err
		}
	}

	err = domain.RetryOnConflict(ctx, s.retries, func() error {
		updated, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) error {
			return cur.Complete(final, s.now())
		})
		if err == nil {
			sess = updated
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Session: sess, ManualAverage: avg, FinalScore: final, Application: app}
	if app == nil {
		return out, nil
	}

	if _, err := s.RecomputeRankings(ctx, app.JobID); err != nil {
		s.log.WithError(err).Warn("re-ranking after manual score failed", map[string]interface{}{
			"sessionId": sessionID,
			"jobId":     app.JobID,
		})
	}
	return out, nil
}

// saveManualScore inserts the rating. When one is already stored for a
// session that never got its score, the stored rating is returned so the
// caller can finish the recording.
func (s *Service) saveManualScore(ctx context.Context, sess *domain.Session, in ManualScoreInput) (*domain.ManualScore, error) {
	manual := &domain.ManualScore{
		SessionID:      sess.ID,
		Technical:      in.Technical,
		Communication:  in.Communication,
		ProblemSolving: in.ProblemSolving,
		Comments:       in.Comments,
	}
	err := s.scores.SaveManualScore(ctx, manual)
	if err == nil {
		return manual, nil
	}
	if !errors.Is(err, domain.ErrAlreadyRecorded) {
		return nil, domain.NewPersistenceError("save manual score", err)
	}
	if sess.Status == domain.SessionCompleted && sess.Score != nil {
		return nil, err
	}

	stored, loadErr := s.scores.ManualScore(ctx, sess.ID)
	if loadErr != nil {
		return nil, domain.NewPersistenceError("load manual score", loadErr)
	}
	s.log.Info("resuming interrupted manual score", map[string]interface{}{"sessionId": sess.ID})
	return stored, nil
}

// propagate writes the session outcome onto the application. The evaluation
// result is read again here since it may have changed during the request.
func (s *Service) propagate(ctx context.Context, appID uint, sessionID string, avg float64, final int) (*domain.Application, error) {
	result, err := s.latestResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	confidence := 0.0
	if result != nil {
		confidence = result.Confidence
	}

	breakdown := domain.ScoreBreakdown{
		AIScore:      math.Round(confidence),
		ManualScore:  math.Round(avg),
		RankingScore: float64(final),
	}
	if err := s.applications.UpdateScoreBreakdown(ctx, appID, breakdown); err != nil {
		return nil, domain.NewPersistenceError("update application score", err)
	}
	return s.applications.Get(ctx, appID)
}

func (s *Service) latestResult(ctx context.Context, sessionID string) (*domain.EvaluationResult, error) {
	result, err := s.scores.LatestEvaluationResult(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewPersistenceError("load evaluation result", err)
	}
	return result, nil
}

// RecomputeRankings rewrites the ranking score of every application of the
// job. Per-application failures are logged and reported but never stop the
// others. A missing job is not an error.
func (s *Service) RecomputeRankings(ctx context.Context, jobID uint) ([]domain.RankedApplication, error) {
	log := s.log.WithFields(map[string]interface{}{"jobId": jobID})

	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.RankingRuns.WithLabelValues("skipped").Inc()
		log.Debug("no job, re-ranking skipped", nil)
		return nil, nil
	}
	if err != nil {
		metrics.RankingRuns.WithLabelValues("failed").Inc()
		return nil, domain.NewPersistenceError("load job", err)
	}
	if err := job.Weights.Validate(); err != nil {
		metrics.RankingRuns.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("job has invalid ranking weights", nil)
		return nil, err
	}

	apps, err := s.applications.ListByJob(ctx, jobID)
	if err != nil {
		metrics.RankingRuns.WithLabelValues("failed").Inc()
		return nil, domain.NewPersistenceError("list applications", err)
	}

	updates := make([]domain.RankingUpdate, 0, len(apps))
	for _, app := range apps {
		updates = append(updates, domain.RankingUpdate{
			ApplicationID: app.ID,
			RankingScore:  RankingScore(app.AIScore, app.ManualScore, job.Weights),
		})
	}

	failed := map[uint]error{}
	if err := s.applications.BulkUpdateRanking(ctx, updates); err != nil {
		var bulk *domain.BulkUpdateError
		if !errors.As(err, &bulk) {
			metrics.RankingRuns.WithLabelValues("failed").Inc()
			return nil, domain.NewPersistenceError("update rankings", err)
		}
		failed = bulk.Failed
		metrics.RankingUpdateFailures.Add(float64(len(failed)))
		log.WithError(err).Warn("some ranking updates failed", map[string]interface{}{"failed": len(failed)})
	}

	// Failed rows keep their stored score so the list matches the database.
	ranked := make([]domain.RankedApplication, 0, len(updates))
	for i, u := range updates {
		score := u.RankingScore
		if _, bad := failed[u.ApplicationID]; bad {
			score = apps[i].RankingScore
		}
		ranked = append(ranked, domain.RankedApplication{ApplicationID: u.ApplicationID, RankingScore: score})
	}
	domain.SortRanked(ranked)

	if s.cache != nil {
		if err := s.cache.StoreRanking(ctx, jobID, ranked); err != nil {
			log.WithError(err).Warn("ranking cache write failed", nil)
		}
	}

	metrics.RankingRuns.WithLabelValues("completed").Inc()
	log.Info("rankings recomputed", map[string]interface{}{
		"applications": len(apps),
		"failed":       len(failed),
	})

	if len(failed) > 0 {
		return ranked, &domain.BulkUpdateError{Failed: failed}
	}
	return ranked, nil
}

// RankedCandidates returns the job's applications by descending ranking
// score, from the cache when it holds the job.
func (s *Service) RankedCandidates(ctx context.Context, jobID uint) ([]domain.RankedApplication, error) {
	if s.cache != nil {
		ranked, ok, err := s.cache.Ranking(ctx, jobID)
		if err != nil {
			s.log.WithError(err).Warn("ranking cache read failed", map[string]interface{}{"jobId": jobID})
		} else if ok {
			return ranked, nil
		}
	}

	apps, err := s.applications.ListByJob(ctx, jobID)
	if err != nil {
		return nil, domain.NewPersistenceError("list applications", err)
	}
	ranked := make([]domain.RankedApplication, 0, len(apps))
	for _, app := range apps {
		ranked = append(ranked, domain.RankedApplication{ApplicationID: app.ID, RankingScore: app.RankingScore})
	}
	domain.SortRanked(ranked)
	return ranked, nil
}

// IngestEvaluationResult stores a report of the behavioral evaluation service.
func (s *Service) IngestEvaluationResult(ctx context.Context, sessionID string, snap domain.EvaluationSnapshot) (*domain.EvaluationResult, error) {
	if math.IsNaN(snap.Confidence) || snap.Confidence < 0 || snap.Confidence > 100 {
		return nil, domain.NewValidationError("confidence must be between 0 and 100")
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.At.IsZero() {
		snap.At = s.now().UTC()
	}

	result, err := s.scores.SaveEvaluationSnapshot(ctx, sessionID, snap)
	if err != nil {
		return nil, domain.NewPersistenceError("save evaluation result", err)
	}
	return result, nil
}
