package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type QuestionKind string

const (
	KindText           QuestionKind = "text"
	KindMultipleChoice QuestionKind = "multiple-choice"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemSubmitted ItemStatus = "submitted"
	ItemEvaluated ItemStatus = "evaluated"
)

// AnswerEvaluation is the automated assessment of one answer.
type AnswerEvaluation struct {
	Score             *float64   `json:"score,omitempty"`
	Feedback          string     `gorm:"type:text" json:"feedback,omitempty"`
	TechnicalAccuracy *float64   `json:"technicalAccuracy,omitempty"`
	EvaluatedAt       *time.Time `json:"evaluatedAt,omitempty"`
}

// QuestionItem is one question instance embedded in a session. Kind selects
// the variant: text items never carry options, multiple-choice items always do.
type QuestionItem struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	SessionID       string                      `gorm:"size:36;not null;uniqueIndex:idx_session_question_ref,priority:1" json:"sessionId"`
	QuestionRef     *string                     `gorm:"size:64;uniqueIndex:idx_session_question_ref,priority:2" json:"questionId,omitempty"`
	Position        int                         `gorm:"not null" json:"position"`
	Text            string                      `gorm:"type:text;not null" json:"text"`
	Kind            QuestionKind                `gorm:"size:20;not null" json:"type"`
	Options         datatypes.JSONSlice[string] `json:"options,omitempty"`
	CandidateAnswer string                      `gorm:"type:text" json:"candidateAnswer"`
	Revision        int64                       `gorm:"not null;default:0" json:"revision"`
	Evaluation      AnswerEvaluation            `gorm:"embedded;embeddedPrefix:evaluation_" json:"evaluation"`
	Status          ItemStatus                  `gorm:"size:20;not null;default:'pending'" json:"status"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

// NewTextQuestion builds a free-text item. ref may be empty for ad-hoc questions.
func NewTextQuestion(ref, text string) (QuestionItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return QuestionItem{}, NewValidationError("question text is required")
	}
	return QuestionItem{
		ID:          uuid.NewString(),
		QuestionRef: refPtr(ref),
		Text:        text,
		Kind:        KindText,
		Status:      ItemPending,
	}, nil
}

// NewMultipleChoiceQuestion builds a multiple-choice item with at least two options.
func NewMultipleChoiceQuestion(ref, text string, options []string) (QuestionItem, error) {
	item, err := NewTextQuestion(ref, text)
	if err != nil {
		return QuestionItem{}, err
	}

	cleaned := make([]string, 0, len(options))
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			cleaned = append(cleaned, opt)
		}
	}
	if len(cleaned) < 2 {
		return QuestionItem{}, NewValidationError("multiple-choice question needs at least two options")
	}

	item.Kind = KindMultipleChoice
	item.Options = datatypes.JSONSlice[string](cleaned)
	return item, nil
}

// NewQuestion dispatches on kind. Options given to a text question are rejected.
func NewQuestion(ref, text string, kind QuestionKind, options []string) (QuestionItem, error) {
	switch kind {
	case KindText, "":
		if len(options) > 0 {
			return QuestionItem{}, NewValidationError("text question %q must not carry options", ref)
		}
		return NewTextQuestion(ref, text)
	case KindMultipleChoice:
		return NewMultipleChoiceQuestion(ref, text, options)
	default:
		return QuestionItem{}, NewValidationError("unknown question type %q", kind)
	}
}

func refPtr(ref string) *string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	return &ref
}

// Ref returns the question-bank reference or "" for ad-hoc items.
func (q *QuestionItem) Ref() string {
	if q.QuestionRef == nil {
		return ""
	}
	return *q.QuestionRef
}

// Choices returns the options of a multiple-choice item and nil otherwise.
func (q *QuestionItem) Choices() []string {
	if q.Kind != KindMultipleChoice {
		return nil
	}
	return q.Options
}

// ApplyAnswer records a candidate answer and reports whether anything changed.
//
// Status only moves forward, with one exception: new text for an evaluated
// item resets it to submitted and drops the stale evaluation so it is scored
// again. Repeating the stored text is a no-op.
func (q *QuestionItem) ApplyAnswer(text string) bool {
	switch q.Status {
	case ItemEvaluated:
		if text == q.CandidateAnswer {
			return false
		}
		q.Evaluation = AnswerEvaluation{}
	case ItemSubmitted:
		if text == q.CandidateAnswer {
			return false
		}
	}

	q.CandidateAnswer = text
	q.Status = ItemSubmitted
	q.Revision++
	return true
}

// NeedsEvaluation reports whether stage two should pick the item up.
func (q *QuestionItem) NeedsEvaluation() bool {
	return q.Status == ItemSubmitted && strings.TrimSpace(q.CandidateAnswer) != ""
}

// ApplyEvaluation stores an evaluation computed for the given answer revision.
func (q *QuestionItem) ApplyEvaluation(revision int64, eval AnswerEvaluation) error {
	if q.Status != ItemSubmitted || q.Revision != revision {
		return ErrStaleEvaluation
	}
	q.Evaluation = eval
	q.Status = ItemEvaluated
	return nil
}

// Answer is one candidate answer addressed by item id or question reference.
type Answer struct {
	QuestionID string `json:"questionId" binding:"required"`
	Text       string `json:"answer"`
}

// UnknownAnswers returns the question references of answers that match no
// item, or nil when every answer has one.
func UnknownAnswers(items []QuestionItem, answers []Answer) []string {
	var unknown []string
	for _, a := range answers {
		if findItem(items, a.QuestionID) == nil {
			unknown = append(unknown, a.QuestionID)
		}
	}
	return unknown
}

// NewUnknownQuestionError reports answers whose questions are not stored yet.
func NewUnknownQuestionError(sessionID string, refs []string) error {
	return fmt.Errorf("%w: session %s has no question %s", ErrUnknownQuestion, sessionID, strings.Join(refs, ", "))
}
