package answers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/metrics"
	"interview-coordinator/usecase/room"
)

// Queue hands evaluation tasks to stage two. Implementations must not block
// the caller for long: the in-process pool rejects when full and RabbitMQ
// publishes with a short timeout.
type Queue interface {
	Enqueue(ctx context.Context, task domain.EvaluationTask) error
}

// AnswerEvaluator scores one answer through the external evaluation service.
type AnswerEvaluator interface {
	EvaluateAnswer(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error)
}

// AnswersPayload is the answers-received body: the full item list after the write.
type AnswersPayload struct {
	Questions []domain.QuestionItem `json:"questions"`
}

// Pipeline is stage one: store answers and hand every submitted item to stage two.
type Pipeline struct {
	sessions domain.SessionRepository
	jobs     domain.JobRepository
	rooms    *room.Registry
	queue    Queue
	log      logger.Logger
}

func NewPipeline(sessions domain.SessionRepository, jobs domain.JobRepository, rooms *room.Registry, queue Queue, log logger.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		jobs:     jobs,
		rooms:    rooms,
		queue:    queue,
		log:      log.WithFields(map[string]interface{}{"component": "answer-pipeline"}),
	}
}

// Submit stores the answers, tells the whole room and dispatches evaluations.
// A storage failure is returned as retryable and nothing is broadcast.
func (p *Pipeline) Submit(ctx context.Context, sessionID string, answers []domain.Answer) (*domain.Session, error) {
	if len(answers) == 0 {
		return nil, domain.NewValidationError("at least one answer is required")
	}
	for _, a := range answers {
		if a.QuestionID == "" {
			return nil, domain.NewValidationError("questionId is required for every answer")
		}
	}

	sess, err := p.sessions.RecordAnswers(ctx, sessionID, answers)
	if err != nil {
		metrics.AnswersSubmitted.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnknownQuestion) {
			return nil, err
		}
		return nil, domain.NewPersistenceError("record answers", err)
	}
	metrics.AnswersSubmitted.WithLabelValues("stored").Inc()

	p.broadcast(sess)
	p.dispatch(ctx, sess)
	return sess, nil
}

// Reevaluate dispatches every item still waiting for an evaluation. It is the
// recovery path after evaluation failures or a restart.
func (p *Pipeline) Reevaluate(ctx context.Context, sessionID string) (int, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return p.dispatch(ctx, sess), nil
}

func (p *Pipeline) dispatch(ctx context.Context, sess *domain.Session) int {
	pending := sess.PendingEvaluation()
	if len(pending) == 0 {
		return 0
	}

	role := p.role(ctx, sess)
	dispatched := 0
	for _, item := range pending {
		task := domain.EvaluationTask{
			SessionID: sess.ID,
			ItemID:    item.ID,
			Revision:  item.Revision,
			Question:  item.Text,
			Answer:    item.CandidateAnswer,
			Role:      role,
		}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			metrics.Evaluations.WithLabelValues("not_dispatched").Inc()
			p.log.WithError(err).Warn("evaluation not dispatched", map[string]interface{}{
				"sessionId": sess.ID,
				"itemId":    item.ID,
			})
			continue
		}
		dispatched++
	}
	return dispatched
}

// role is the job title when the session belongs to one.
func (p *Pipeline) role(ctx context.Context, sess *domain.Session) string {
	if sess.JobID == nil || p.jobs == nil {
		return ""
	}
	job, err := p.jobs.Get(ctx, *sess.JobID)
	if err != nil {
		p.log.Debug("job lookup failed, evaluating without role", map[string]interface{}{
			"sessionId": sess.ID,
			"jobId":     *sess.JobID,
		})
		return ""
	}
	return job.Title
}

func (p *Pipeline) broadcast(sess *domain.Session) {
	broadcastAnswers(p.rooms, sess, p.log)
}

func broadcastAnswers(rooms *room.Registry, sess *domain.Session, log logger.Logger) {
	msg, err := room.NewMessage(room.TypeAnswersReceived, sess.ID, AnswersPayload{Questions: sess.Questions})
	if err != nil {
		log.WithError(err).Error("failed to encode answers", map[string]interface{}{"sessionId": sess.ID})
		return
	}
	rooms.Broadcast(sess.ID, msg, nil)
}

// Evaluator is stage two for a single task.
type Evaluator struct {
	sessions domain.SessionRepository
	service  AnswerEvaluator
	rooms    *room.Registry
	timeout  time.Duration
	log      logger.Logger
}

func NewEvaluator(sessions domain.SessionRepository, service AnswerEvaluator, rooms *room.Registry, timeout time.Duration, log logger.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		sessions: sessions,
		service:  service,
		rooms:    rooms,
		timeout:  timeout,
		log:      log.WithFields(map[string]interface{}{"component": "answer-evaluator"}),
	}
}

// Process evaluates one answer and stores the result on exactly that item.
// A result for an answer that changed in the meantime is discarded. On any
// failure the item stays submitted for a later Reevaluate.
func (e *Evaluator) Process(ctx context.Context, task domain.EvaluationTask) error {
	log := e.log.WithFields(map[string]interface{}{
		"sessionId": task.SessionID,
		"itemId":    task.ItemID,
		"revision":  task.Revision,
	})

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	timer := prometheus.NewTimer(metrics.EvaluationDuration)
	eval, err := e.service.EvaluateAnswer(callCtx, task.Request())
	timer.ObserveDuration()
	cancel()
	if err != nil {
		metrics.Evaluations.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("answer evaluation failed", nil)
		return domain.NewEvaluationError(err)
	}

	if err := e.sessions.SaveEvaluation(ctx, task.SessionID, task.ItemID, task.Revision, eval); err != nil {
		if errors.Is(err, domain.ErrStaleEvaluation) {
			metrics.Evaluations.WithLabelValues("stale").Inc()
			log.Info("discarding evaluation of a superseded answer", nil)
			return nil
		}
		metrics.Evaluations.WithLabelValues("failed").Inc()
		log.WithError(err).Error("failed to store evaluation", nil)
		return domain.NewPersistenceError(fmt.Sprintf("save evaluation of item %s", task.ItemID), err)
	}
	metrics.Evaluations.WithLabelValues("stored").Inc()

	sess, err := e.sessions.Get(ctx, task.SessionID)
	if err != nil {
		log.WithError(err).Warn("evaluation stored but session reload failed", nil)
		return nil
	}
	broadcastAnswers(e.rooms, sess, e.log)
	return nil
}
