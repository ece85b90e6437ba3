package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_relay_messages_total",
			Help: "Real-time messages handled by the relay, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "interview_active_rooms",
			Help: "Rooms with at least one connected participant",
		},
	)

	QuestionsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_questions_persisted_total",
			Help: "Distributed question batches by persistence outcome",
		},
		[]string{"outcome"},
	)

	AnswersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_answer_batches_total",
			Help: "Answer batches received, by outcome",
		},
		[]string{"outcome"},
	)

	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_evaluations_total",
			Help: "Per-answer evaluations, by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interview_evaluation_duration_seconds",
			Help:    "Latency of the external evaluation service",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	RankingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_ranking_runs_total",
			Help: "Job-wide re-ranking runs, by outcome",
		},
		[]string{"outcome"},
	)

	RankingUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_ranking_update_failures_total",
			Help: "Applications whose ranking write failed during a re-ranking run",
		},
	)
)
