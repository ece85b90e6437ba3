package scoring

import (
	"math"

	"interview-coordinator/domain"
)

// Session-level weights. Job-level ranking weights are configured per job.
const (
	manualShare     = 0.6
	confidenceShare = 0.4
)

// SessionScore combines the manual average with the behavioral confidence.
// Without an evaluation result the manual average stands alone.
func SessionScore(manualAverage float64, result *domain.EvaluationResult) int {
	if result == nil {
		return int(math.Round(manualAverage))
	}
	return int(math.Round(manualAverage*manualShare + result.Confidence*confidenceShare))
}

// RankingScore normalizes the job weights by their total and rounds to one
// decimal. Zero total weight ranks every application at 0. Negative weights
// count as 0.
func RankingScore(aiScore, manualScore float64, w domain.RankingWeights) float64 {
	w.AIWeight, w.ManualWeight = math.Max(w.AIWeight, 0), math.Max(w.ManualWeight, 0)
	total := w.Total()
	if total == 0 {
		return 0
	}
	raw := aiScore*(w.AIWeight/total) + manualScore*(w.ManualWeight/total)
	return math.Round(raw*10) / 10
}

func validSubScore(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
