package model

import "time"

// EvaluationResult scores one completed execution on four quality metrics,
// each in [1, 5]. A zero score means the metric was not produced.
type EvaluationResult struct {
	ExecutionID  string    `json:"execution_id"`
	ClaimID      string    `json:"claim_id"`
	Groundedness float64   `json:"groundedness"`
	Relevance    float64   `json:"relevance"`
	Coherence    float64   `json:"coherence"`
	Fluency      float64   `json:"fluency"`
	Overall      float64   `json:"overall"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Evaluator    string    `json:"evaluator,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// ComputeOverall sets Overall to the arithmetic mean of the scores that
// are present (non-zero).
func (r *EvaluationResult) ComputeOverall() {
	sum := 0.0
	n := 0
	for _, s := range []float64{r.Groundedness, r.Relevance, r.Coherence, r.Fluency} {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		r.Overall = 0
		return
	}
	r.Overall = sum / float64(n)
}
