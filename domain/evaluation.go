package domain

// EvaluationTask is one stage-two unit of work: evaluate a single answer at
// a given revision. It travels through the evaluation queue as JSON.
type EvaluationTask struct {
	SessionID string `json:"session_id"`
	ItemID    string `json:"item_id"`
	Revision  int64  `json:"revision"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Role      string `json:"role"`
}

// EvaluationRequest is what the evaluation service scores.
type EvaluationRequest struct {
	Question string
	Answer   string
	Role     string
}

func (t EvaluationTask) Request() EvaluationRequest {
	return EvaluationRequest{Question: t.Question, Answer: t.Answer, Role: t.Role}
}
