package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/memstore"
	"interview-coordinator/usecase/answers"
	"interview-coordinator/usecase/lifecycle"
	"interview-coordinator/usecase/questions"
	"interview-coordinator/usecase/room"
	"interview-coordinator/usecase/scoring"
	"interview-coordinator/usecase/signaling"
)

type evaluatorFunc func(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error)

func (f evaluatorFunc) EvaluateAnswer(ctx context.Context, req domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
	return f(ctx, req)
}

func fixedScore(score float64) evaluatorFunc {
	return func(context.Context, domain.EvaluationRequest) (domain.AnswerEvaluation, error) {
		now := time.Now()
		accuracy := score
		return domain.AnswerEvaluation{Score: &score, Feedback: "solid", TechnicalAccuracy: &accuracy, EvaluatedAt: &now}, nil
	}
}

type testApp struct {
	router *gin.Engine
	store  *memstore.Store
	rooms  *room.Registry
	job    domain.Job
	app    domain.Application
}

// newTestApp wires every service over the memory store, the way serve does.
// Session "s1" belongs to interviewer alice and candidate bob.
func newTestApp(t *testing.T, service answers.AnswerEvaluator) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := logger.NewNoOpLogger()

	store := memstore.New()
	job := store.AddJob(domain.Job{
		Title:   "Backend Engineer",
		Weights: domain.RankingWeights{AIWeight: 50, ManualWeight: 50},
	})
	app := store.AddApplication(domain.Application{JobID: job.ID, CandidateID: "bob"})
	require.NoError(t, store.Sessions().Create(ctx, &domain.Session{
		ID:            "s1",
		ApplicationID: &app.ID,
		JobID:         &job.ID,
		CandidateID:   "bob",
		InterviewerID: "alice",
		ScheduledAt:   time.Now(),
		Status:        domain.SessionScheduled,
	}))

	rooms := room.NewRegistry(log)
	relay := signaling.NewRelay(rooms, log)
	distributor := questions.NewDistributor(rooms, store.Sessions(), time.Second, log)
	evaluator := answers.NewEvaluator(store.Sessions(), service, rooms, time.Second, log)
	pool := answers.NewWorkerPool(2, 16, evaluator.Process, log)
	pipeline := answers.NewPipeline(store.Sessions(), store.Jobs(), rooms, pool, log)
	sessions := lifecycle.NewService(store.Sessions(), 3, log)
	scores := scoring.NewService(store.Sessions(), store.Applications(), store.Jobs(), store.Scores(), nil, 3, log)

	pool.Start(ctx)
	t.Cleanup(func() {
		distributor.Wait()
		pool.Stop()
	})

	router := gin.New()
	NewHTTPHandler(router, sessions, pipeline, scores)
	NewWSHandler(router, rooms, relay, distributor, pipeline, sessions, config.Config{
		Room: config.RoomConfig{SendBuffer: 16, WriteTimeout: time.Second, PongTimeout: 5 * time.Second},
	}, log)

	return &testApp{router: router, store: store, rooms: rooms, job: job, app: app}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeBody(t, w, &body)
	return body.Error.Code
}
