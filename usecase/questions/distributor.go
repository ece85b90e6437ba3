package questions

import (
	"context"
	"sync"
	"time"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/metrics"
	"interview-coordinator/usecase/room"
)

// Input is one question as sent by the interviewer.
type Input struct {
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Options    []string `json:"options,omitempty"`
}

// Batch is the send-questions payload.
type Batch struct {
	Questions []Input `json:"questions"`
}

// Distributor pushes questions to the room first and stores them afterwards,
// so the candidate never waits on the database.
type Distributor struct {
	rooms          *room.Registry
	sessions       domain.SessionRepository
	log            logger.Logger
	persistTimeout time.Duration
	wg             sync.WaitGroup
}

func NewDistributor(rooms *room.Registry, sessions domain.SessionRepository, persistTimeout time.Duration, log logger.Logger) *Distributor {
	if persistTimeout <= 0 {
		persistTimeout = 10 * time.Second
	}
	return &Distributor{
		rooms:          rooms,
		sessions:       sessions,
		log:            log.WithFields(map[string]interface{}{"component": "question-distributor"}),
		persistTimeout: persistTimeout,
	}
}

// Distribute validates the batch, broadcasts the questions the room has not
// seen yet and persists the batch in the background. It returns the items
// that were broadcast. References only count as distributed once a peer
// accepted them, so a batch sent to an empty room can be sent again.
func (d *Distributor) Distribute(ctx context.Context, sessionID string, sender room.Conn, batch []Input) ([]domain.QuestionItem, error) {
	if _, ok := d.rooms.Participant(sessionID, sender); !ok {
		return nil, domain.ErrNotMember
	}

	items, err := buildItems(batch)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	refs := make([]string, 0, len(items))
	for _, item := range items {
		if ref := item.Ref(); ref != "" {
			refs = append(refs, ref)
		}
	}
	claimed := d.rooms.ClaimQuestionRefs(sessionID, refs)

	fresh := make([]domain.QuestionItem, 0, len(items))
	var claimedRefs []string
	for _, item := range items {
		ref := item.Ref()
		if ref == "" || claimed[ref] {
			fresh = append(fresh, item)
		}
		if ref != "" && claimed[ref] {
			claimedRefs = append(claimedRefs, ref)
		}
	}

	if len(fresh) > 0 {
		msg, err := room.NewMessage(room.TypeReceiveQuestions, sessionID, map[string]interface{}{"questions": fresh})
		if err != nil {
			d.rooms.ReleaseQuestionRefs(sessionID, claimedRefs)
			return nil, err
		}
		if d.rooms.Broadcast(sessionID, msg, sender) == 0 {
			d.rooms.ReleaseQuestionRefs(sessionID, claimedRefs)
			d.log.Info("questions reached no peer", map[string]interface{}{
				"sessionId": sessionID,
				"count":     len(fresh),
			})
		}
	}

	d.persist(ctx, sessionID, items)
	return fresh, nil
}

// persist stores items after the caller has moved on. The store skips
// references it already holds, so the full batch is always offered.
func (d *Distributor) persist(ctx context.Context, sessionID string, items []domain.QuestionItem) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.persistTimeout)
		defer cancel()

		inserted, err := d.sessions.AppendQuestions(pctx, sessionID, items)
		if err != nil {
			metrics.QuestionsPersisted.WithLabelValues("failed").Inc()
			d.log.WithError(err).Error("failed to persist distributed questions", map[string]interface{}{
				"sessionId": sessionID,
				"count":     len(items),
			})
			return
		}

		metrics.QuestionsPersisted.WithLabelValues("stored").Inc()
		d.log.Info("questions persisted", map[string]interface{}{
			"sessionId": sessionID,
			"offered":   len(items),
			"inserted":  len(inserted),
		})
	}()
}

// Wait blocks until every background write has finished.
func (d *Distributor) Wait() {
	d.wg.Wait()
}

// buildItems turns the raw batch into question items, keeping the first
// occurrence of every reference.
func buildItems(batch []Input) ([]domain.QuestionItem, error) {
	seen := make(map[string]struct{}, len(batch))
	items := make([]domain.QuestionItem, 0, len(batch))
	for _, in := range batch {
		item, err := domain.NewQuestion(in.QuestionID, in.Text, domain.QuestionKind(in.Type), in.Options)
		if err != nil {
			return nil, err
		}
		if ref := item.Ref(); ref != "" {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
		}
		items = append(items, item)
	}
	return items, nil
}
