package domain

import (
	"math"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// ManualScore is the interviewer's rating of one session. One per session.
type ManualScore struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:36;not null;uniqueIndex" json:"sessionId"`
	Technical      float64   `gorm:"not null" json:"technical"`
	Communication  float64   `gorm:"not null" json:"communication"`
	ProblemSolving float64   `gorm:"not null" json:"problemSolving"`
	Comments       string    `gorm:"type:text" json:"comments"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Average is the unweighted mean of the three sub-scores.
func (m ManualScore) Average() float64 {
	return (m.Technical + m.Communication + m.ProblemSolving) / 3
}

type BehavioralFlag struct {
	At    time.Time `json:"at"`
	Label string    `json:"label"`
}

// EvaluationSnapshot is one periodic report of the behavioral evaluation service.
type EvaluationSnapshot struct {
	Confidence float64            `json:"confidence"`
	Stress     float64            `json:"stress"`
	Emotions   map[string]float64 `json:"emotions,omitempty"`
	Flags      []BehavioralFlag   `json:"flags,omitempty"`
	At         time.Time          `json:"at"`
}

// EvaluationResult is the running automated assessment of a session. The
// latest snapshot is kept in the flat columns, earlier ones in History.
type EvaluationResult struct {
	ID         uint                                    `gorm:"primaryKey" json:"id"`
	SessionID  string                                  `gorm:"size:36;not null;uniqueIndex" json:"sessionId"`
	Confidence float64                                 `json:"confidence"`
	Stress     float64                                 `json:"stress"`
	Emotions   datatypes.JSONType[map[string]float64]  `json:"emotions"`
	Flags      datatypes.JSONSlice[BehavioralFlag]     `json:"flags"`
	History    datatypes.JSONSlice[EvaluationSnapshot] `json:"history"`
	ReportedAt time.Time                               `json:"reportedAt"`
	CreatedAt  time.Time                               `json:"createdAt"`
	UpdatedAt  time.Time                               `json:"updatedAt"`
}

// Apply folds a new snapshot in, pushing the current values into history.
func (r *EvaluationResult) Apply(s EvaluationSnapshot) {
	if !r.ReportedAt.IsZero() {
		r.History = append(r.History, EvaluationSnapshot{
			Confidence: r.Confidence,
			Stress:     r.Stress,
			Emotions:   r.Emotions.Data(),
			Flags:      r.Flags,
			At:         r.ReportedAt,
		})
	}
	r.Confidence = s.Confidence
	r.Stress = s.Stress
	r.Emotions = datatypes.NewJSONType(s.Emotions)
	r.Flags = s.Flags
	r.ReportedAt = s.At
}

// ScoreBreakdown is the ranking field group on an application.
type ScoreBreakdown struct {
	AIScore      float64 `json:"aiScore"`
	ManualScore  float64 `json:"manualScore"`
	RankingScore float64 `json:"rankingScore"`
}

// Application is the job application that owns the ranking fields.
type Application struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	JobID        uint      `gorm:"not null;index" json:"jobId"`
	CandidateID  string    `gorm:"size:64;not null" json:"candidateId"`
	AIScore      float64   `gorm:"not null;default:0" json:"aiScore"`
	ManualScore  float64   `gorm:"not null;default:0" json:"manualScore"`
	RankingScore float64   `gorm:"not null;default:0;index" json:"rankingScore"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RankingWeights are the job-level weights; they need not sum to 100.
type RankingWeights struct {
	AIWeight     float64 `gorm:"not null;default:50" json:"aiWeight"`
	ManualWeight float64 `gorm:"not null;default:50" json:"manualWeight"`
}

func (w RankingWeights) Total() float64 { return w.AIWeight + w.ManualWeight }

// Validate rejects negative or non-finite weights.
func (w RankingWeights) Validate() error {
	for name, v := range map[string]float64{"aiWeight": w.AIWeight, "manualWeight": w.ManualWeight} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return NewValidationError("%s must be a non-negative number, got %v", name, v)
		}
	}
	return nil
}

type Job struct {
	ID      uint           `gorm:"primaryKey" json:"id"`
	Title   string         `gorm:"size:255;not null" json:"title"`
	Weights RankingWeights `gorm:"embedded" json:"weights"`
}

// RankingUpdate is one row of a job-wide re-ranking write.
type RankingUpdate struct {
	ApplicationID uint
	RankingScore  float64
}

// RankedApplication is an entry of the sorted candidate list of a job.
type RankedApplication struct {
	ApplicationID uint    `json:"applicationId"`
	RankingScore  float64 `json:"rankingScore"`
}

// SortRanked orders by descending score, then ascending application id.
func SortRanked(ranked []RankedApplication) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RankingScore != ranked[j].RankingScore {
			return ranked[i].RankingScore > ranked[j].RankingScore
		}
		return ranked[i].ApplicationID < ranked[j].ApplicationID
	})
}
