package questions

import (
	"context"
	"errors"
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

type fixture struct {
	dist        *Distributor
	sessions    domain.SessionRepository
	interviewer *roomtest.Conn
	candidate   *roomtest.Conn
}

func newFixture(t *testing.T, sessions domain.SessionRepository) fixture {
	t.Helper()
	log := logger.NewNoOpLogger()
	reg := room.NewRegistry(log)
	f := fixture{
		dist:        NewDistributor(reg, sessions, time.Second, log),
		sessions:    sessions,
		interviewer: roomtest.NewConn(),
		candidate:   roomtest.NewConn(),
	}
	_, err := reg.Join("s1", "alice", room.RoleInterviewer, f.interviewer)
	require.NoError(t, err)
	_, err = reg.Join("s1", "bob", room.RoleCandidate, f.candidate)
	require.NoError(t, err)
	return f
}

func newSessionStore(t *testing.T) domain.SessionRepository {
	store := memstore.New()
	require.NoError(t, store.Sessions().Create(context.Background(), &domain.Session{
		ID: "s1", CandidateID: "bob", InterviewerID: "alice", ScheduledAt: time.Now(),
	}))
	return store.Sessions()
}

func received(t *testing.T, c *roomtest.Conn) [][]domain.QuestionItem {
	t.Helper()
	var out [][]domain.QuestionItem
	for _, msg := range c.OfType(room.TypeReceiveQuestions) {
		var body struct {
			Questions []domain.QuestionItem `json:"questions"`
		}
		require.NoError(t, roomtest.Decode(msg, &body))
		out = append(out, body.Questions)
	}
	return out
}

func TestDistribute_BroadcastsBeforePersisting(t *testing.T) {
	f := newFixture(t, newSessionStore(t))

	sent, err := f.dist.Distribute(context.Background(), "s1", f.interviewer, []Input{
		{QuestionID: "q1", Text: "Explain goroutines", Type: "text"},
		{QuestionID: "q2", Text: "Pick a map", Type: "multiple-choice", Options: []string{"sync.Map", "map+mutex"}},
	})
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	batches := received(t, f.candidate)
	require.Len(t, batches, 1)
	assert.Equal(t, "q1", batches[0][0].Ref())
	assert.Equal(t, []string{"sync.Map", "map+mutex"}, batches[0][1].Choices())
	assert.Empty(t, f.interviewer.OfType(room.TypeReceiveQuestions))

	f.dist.Wait()
	sess, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Questions, 2)
	assert.Equal(t, domain.ItemPending, sess.Questions[0].Status)
}

func TestDistribute_SameReferenceStoredAndBroadcastOnce(t *testing.T) {
	f := newFixture(t, newSessionStore(t))
	ctx := context.Background()

	_, err := f.dist.Distribute(ctx, "s1", f.interviewer, []Input{
		{QuestionID: "q1", Text: "Explain goroutines"},
		{QuestionID: "q1", Text: "Explain goroutines"},
	})
	require.NoError(t, err)
	sent, err := f.dist.Distribute(ctx, "s1", f.interviewer, []Input{
		{QuestionID: "q1", Text: "Explain goroutines"},
		{QuestionID: "q2", Text: "Explain channels"},
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "q2", sent[0].Ref())

	f.dist.Wait()
	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, q := range sess.Questions {
		counts[q.Ref()]++
	}
	assert.Equal(t, map[string]int{"q1": 1, "q2": 1}, counts)

	var refs []string
	for _, batch := range received(t, f.candidate) {
		for _, q := range batch {
			refs = append(refs, q.Ref())
		}
	}
	assert.Equal(t, []string{"q1", "q2"}, refs)
}

func TestDistribute_AdHocQuestionsAreNeverDeduplicated(t *testing.T) {
	f := newFixture(t, newSessionStore(t))

	sent, err := f.dist.Distribute(context.Background(), "s1", f.interviewer, []Input{
		{Text: "Tell me about yourself"},
		{Text: "Tell me about yourself"},
	})
	require.NoError(t, err)
	assert.Len(t, sent, 2)
	f.dist.Wait()
}

func TestDistribute_RejectsInvalidBatchAndOutsiders(t *testing.T) {
	f := newFixture(t, newSessionStore(t))
	ctx := context.Background()

	_, err := f.dist.Distribute(ctx, "s1", f.interviewer, []Input{{QuestionID: "q1", Text: "Pick", Type: "multiple-choice", Options: []string{"one"}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.dist.Distribute(ctx, "s1", f.interviewer, []Input{{QuestionID: "q1", Text: "Hi", Options: []string{"a", "b"}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.dist.Distribute(ctx, "s1", roomtest.NewConn(), []Input{{QuestionID: "q1", Text: "Hi"}})
	assert.ErrorIs(t, err, domain.ErrNotMember)

	assert.Empty(t, f.candidate.OfType(room.TypeReceiveQuestions))
}

type failingSessions struct {
	domain.SessionRepository
	calls int
}

func (f *failingSessions) AppendQuestions(context.Context, string, []domain.QuestionItem) ([]domain.QuestionItem, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestDistribute_PersistenceFailureKeepsBroadcast(t *testing.T) {
	repo := &failingSessions{SessionRepository: newSessionStore(t)}
	f := newFixture(t, repo)

	sent, err := f.dist.Distribute(context.Background(), "s1", f.interviewer, []Input{{QuestionID: "q1", Text: "Explain goroutines"}})
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	f.dist.Wait()
	assert.Equal(t, 1, repo.calls)
	assert.Len(t, received(t, f.candidate), 1)
}

func TestDistribute_PersistsAfterCallerContextEnds(t *testing.T) {
	f := newFixture(t, newSessionStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.dist.Distribute(ctx, "s1", f.interviewer, []Input{{QuestionID: "q1", Text: "Explain goroutines"}})
	require.NoError(t, err)
	cancel()

	f.dist.Wait()
	sess, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Questions, 1)
}

func TestDistribute_ResendAfterCandidateJoins(t *testing.T) {
	log := logger.NewNoOpLogger()
	reg := room.NewRegistry(log)
	sessions := newSessionStore(t)
	dist := NewDistributor(reg, sessions, time.Second, log)
	ctx := context.Background()

	interviewer, candidate := roomtest.NewConn(), roomtest.NewConn()
	_, err := reg.Join("s1", "alice", room.RoleInterviewer, interviewer)
	require.NoError(t, err)

	batch := []Input{
		{QuestionID: "q1", Text: "Explain goroutines"},
		{QuestionID: "q2", Text: "Explain channels"},
		{QuestionID: "q3", Text: "Explain select"},
	}
	_, err = dist.Distribute(ctx, "s1", interviewer, batch)
	require.NoError(t, err)

	_, err = reg.Join("s1", "bob", room.RoleCandidate, candidate)
	require.NoError(t, err)

	sent, err := dist.Distribute(ctx, "s1", interviewer, batch)
	require.NoError(t, err)
	assert.Len(t, sent, 3)

	batches := received(t, candidate)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)

	sent, err = dist.Distribute(ctx, "s1", interviewer, batch)
	require.NoError(t, err)
	assert.Empty(t, sent, "delivered references are not sent twice")
	assert.Len(t, received(t, candidate), 1)

	dist.Wait()
	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Questions, 3)
}
