package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/memstore"
	"interview-coordinator/usecase/room"
	"interview-coordinator/usecase/room/roomtest"
)

type evaluatorFunc func(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error)

func (f evaluatorFunc) EvaluateAnswer(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
	return f(ctx, req)
}

func scored(score float64) domain.AnswerEvaluation {
	now := time.Now()
	accuracy := score / 10
	return domain.AnswerEvaluation{Score: &score, Feedback: "ok", TechnicalAccuracy: &accuracy, EvaluatedAt: &now}
}

type harness struct {
	store       *memstore.Store
	rooms       *room.Registry
	pool        *WorkerPool
	pipeline    *Pipeline
	interviewer *roomtest.Conn
	candidate   *roomtest.Conn
}

func newHarness(t *testing.T, questions int, service AnswerEvaluator, workers int) *harness {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNoOpLogger()

	store := memstore.New()
	job := store.AddJob(domain.Job{Title: "Backend Engineer"})
	require.NoError(t, store.Sessions().Create(ctx, &domain.Session{
		ID: "s1", CandidateID: "bob", InterviewerID: "alice", JobID: &job.ID, ScheduledAt: time.Now(),
	}))

	items := make([]domain.QuestionItem, 0, questions)
	for i := 1; i <= questions; i++ {
		item, err := domain.NewTextQuestion(fmt.Sprintf("q%d", i), fmt.Sprintf("Question %d", i))
		require.NoError(t, err)
		items = append(items, item)
	}
	_, err := store.Sessions().AppendQuestions(ctx, "s1", items)
	require.NoError(t, err)

	rooms := room.NewRegistry(log)
	h := &harness{store: store, rooms: rooms, interviewer: roomtest.NewConn(), candidate: roomtest.NewConn()}
	_, err = rooms.Join("s1", "alice", room.RoleInterviewer, h.interviewer)
	require.NoError(t, err)
	_, err = rooms.Join("s1", "bob", room.RoleCandidate, h.candidate)
	require.NoError(t, err)

	evaluator := NewEvaluator(store.Sessions(), service, rooms, 200*time.Millisecond, log)
	h.pool = NewWorkerPool(workers, 64, evaluator.Process, log)
	h.pipeline = NewPipeline(store.Sessions(), store.Jobs(), rooms, h.pool, log)
	h.pool.Start(ctx)
	t.Cleanup(h.pool.Stop)
	return h
}

func (h *harness) session(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := h.store.Sessions().Get(context.Background(), "s1")
	require.NoError(t, err)
	return sess
}

func answersFor(n int, prefix string) []domain.Answer {
	out := make([]domain.Answer, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Answer{QuestionID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("%s %d", prefix, i)})
	}
	return out
}

func TestSubmit_StoresAnswersAndBroadcastsToWholeRoom(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, 2, evaluatorFunc(func(ctx context.Context, _ domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.AnswerEvaluation{}, ctx.Err()
		}
		return scored(7), nil
	}), 2)
	defer close(block)

	sess, err := h.pipeline.Submit(context.Background(), "s1", []domain.Answer{{QuestionID: "q1", Text: "goroutines are cheap"}})
	require.NoError(t, err)

	item := sess.FindItem("q1")
	require.NotNil(t, item)
	assert.Equal(t, domain.ItemSubmitted, item.Status)
	assert.Equal(t, "goroutines are cheap", item.CandidateAnswer)
	assert.Equal(t, domain.ItemPending, sess.FindItem("q2").Status)

	for _, c := range []*roomtest.Conn{h.interviewer, h.candidate} {
		msg, ok := c.Last(room.TypeAnswersReceived)
		require.True(t, ok)
		var body AnswersPayload
		require.NoError(t, roomtest.Decode(msg, &body))
		assert.Len(t, body.Questions, 2)
	}
}

func TestSubmit_ConcurrentEvaluationsAreAllKept(t *testing.T) {
	const n = 8
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	h := newHarness(t, n, evaluatorFunc(func(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		started.Done()
		<-release
		return scored(float64(len(req.Answer))), nil
	}), n)

	_, err := h.pipeline.Submit(context.Background(), "s1", answersFor(n, "answer"))
	require.NoError(t, err)

	started.Wait()
	close(release)
	h.pool.Stop()

	sess := h.session(t)
	for _, item := range sess.Questions {
		assert.Equal(t, domain.ItemEvaluated, item.Status, item.Ref())
		require.NotNil(t, item.Evaluation.Score, item.Ref())
		assert.NotEmpty(t, item.CandidateAnswer)
	}
}

func TestSubmit_EvaluationFailureKeepsAnswer(t *testing.T) {
	h := newHarness(t, 1, evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		return domain.AnswerEvaluation{}, errors.New("model overloaded")
	}), 1)

	_, err := h.pipeline.Submit(context.Background(), "s1", answersFor(1, "answer"))
	require.NoError(t, err)
	h.pool.Stop()

	item := h.session(t).FindItem("q1")
	assert.Equal(t, domain.ItemSubmitted, item.Status)
	assert.Equal(t, "answer 1", item.CandidateAnswer)
	assert.Nil(t, item.Evaluation.Score)
}

func TestSubmit_EvaluationTimeoutKeepsAnswer(t *testing.T) {
	h := newHarness(t, 1, evaluatorFunc(func(ctx context.Context, _ domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		<-ctx.Done()
		return domain.AnswerEvaluation{}, ctx.Err()
	}), 1)

	_, err := h.pipeline.Submit(context.Background(), "s1", answersFor(1, "answer"))
	require.NoError(t, err)
	h.pool.Stop()

	assert.Equal(t, domain.ItemSubmitted, h.session(t).FindItem("q1").Status)
}

func TestSubmit_ResubmissionReplacesEvaluation(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, 1, evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		return scored(float64(calls.Add(1))), nil
	}), 1)
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, "s1", []domain.Answer{{QuestionID: "q1", Text: "first"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.session(t).FindItem("q1").Status == domain.ItemEvaluated
	}, time.Second, 5*time.Millisecond)

	sess, err := h.pipeline.Submit(ctx, "s1", []domain.Answer{{QuestionID: "q1", Text: "first"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemEvaluated, sess.FindItem("q1").Status, "identical text is a no-op")

	sess, err = h.pipeline.Submit(ctx, "s1", []domain.Answer{{QuestionID: "q1", Text: "second"}})
	require.NoError(t, err)
	item := sess.FindItem("q1")
	assert.Equal(t, domain.ItemSubmitted, item.Status)
	assert.Nil(t, item.Evaluation.Score)

	h.pool.Stop()
	item = h.session(t).FindItem("q1")
	assert.Equal(t, domain.ItemEvaluated, item.Status)
	assert.Equal(t, "second", item.CandidateAnswer)
	assert.Equal(t, float64(2), *item.Evaluation.Score)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvaluator_DiscardsStaleRevision(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Sessions().Create(ctx, &domain.Session{ID: "s1"}))
	item, err := domain.NewTextQuestion("q1", "Explain channels")
	require.NoError(t, err)
	_, err = store.Sessions().AppendQuestions(ctx, "s1", []domain.QuestionItem{item})
	require.NoError(t, err)

	sess, err := store.Sessions().RecordAnswers(ctx, "s1", []domain.Answer{{QuestionID: "q1", Text: "v1"}})
	require.NoError(t, err)
	stale := sess.FindItem("q1").Revision

	_, err = store.Sessions().RecordAnswers(ctx, "s1", []domain.Answer{{QuestionID: "q1", Text: "v2"}})
	require.NoError(t, err)

	log := logger.NewTestLogger(t)
	evaluator := NewEvaluator(store.Sessions(), evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		return scored(9), nil
	}), room.NewRegistry(log), time.Second, log)

	require.NoError(t, evaluator.Process(ctx, domain.EvaluationTask{SessionID: "s1", ItemID: item.ID, Revision: stale, Answer: "v1"}))

	got, err := store.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemSubmitted, got.FindItem("q1").Status)
	assert.Equal(t, "v2", got.FindItem("q1").CandidateAnswer)
}

func TestSubmit_PassesJobTitleAsRole(t *testing.T) {
	roles := make(chan string, 1)
	h := newHarness(t, 1, evaluatorFunc(func(_ context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		roles <- req.Role
		return scored(5), nil
	}), 1)

	_, err := h.pipeline.Submit(context.Background(), "s1", answersFor(1, "answer"))
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", <-roles)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t, 1, evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		return scored(5), nil
	}), 1)

	_, err := h.pipeline.Submit(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.pipeline.Submit(context.Background(), "missing", answersFor(1, "a"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_RejectsAnswersBeforeTheirQuestionIsStored(t *testing.T) {
	h := newHarness(t, 1, evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		return scored(5), nil
	}), 1)

	_, err := h.pipeline.Submit(context.Background(), "s1", []domain.Answer{
		{QuestionID: "q1", Text: "known"},
		{QuestionID: "q9", Text: "arrived before its question"},
	})
	require.ErrorIs(t, err, domain.ErrUnknownQuestion)
	std := domain.Normalize(err)
	assert.Equal(t, domain.ErrCodeUnknownQuestion, std.Code)
	assert.True(t, std.Retryable)

	sess := h.session(t)
	assert.Equal(t, domain.ItemPending, sess.FindItem("q1").Status, "nothing is applied from a rejected batch")
	assert.Empty(t, h.interviewer.OfType(room.TypeAnswersReceived))
}

func TestReevaluate_RedispatchesSubmittedItems(t *testing.T) {
	var fail atomic.Bool
	var failures atomic.Int32
	fail.Store(true)
	h := newHarness(t, 3, evaluatorFunc(func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		if fail.Load() {
			failures.Add(1)
			return domain.AnswerEvaluation{}, errors.New("unavailable")
		}
		return scored(6), nil
	}), 2)
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, "s1", answersFor(2, "answer"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return failures.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.session(t).PendingEvaluation(), 2)

	fail.Store(false)
	n, err := h.pipeline.Reevaluate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h.pool.Stop()
	sess := h.session(t)
	assert.Empty(t, sess.PendingEvaluation())
	assert.Equal(t, domain.ItemPending, sess.FindItem("q3").Status)
}

func TestWorkerPool_RejectsWhenFullOrClosed(t *testing.T) {
	pool := NewWorkerPool(1, 1, func(context.Context, domain.EvaluationTask) error { return nil }, logger.NewNoOpLogger())
	ctx := context.Background()

	require.NoError(t, pool.Enqueue(ctx, domain.EvaluationTask{ItemID: "a"}))
	assert.ErrorIs(t, pool.Enqueue(ctx, domain.EvaluationTask{ItemID: "b"}), domain.ErrQueueFull)

	pool.Start(ctx)
	pool.Stop()
	assert.ErrorIs(t, pool.Enqueue(ctx, domain.EvaluationTask{ItemID: "c"}), domain.ErrQueueClosed)
}
