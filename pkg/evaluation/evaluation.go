// Package evaluation scores completed claim assessments on four quality
// metrics: groundedness, relevance, coherence, and fluency. Scoring is
// delegated to an evaluator agent on the same remote service the
// specialists run on; parsing tolerates loosely formatted responses.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// Metric names accepted in a Request.
const (
	MetricGroundedness = "groundedness"
	MetricRelevance    = "relevance"
	MetricCoherence    = "coherence"
	MetricFluency      = "fluency"
)

// AllMetrics is the default metric set.
var AllMetrics = []string{MetricGroundedness, MetricRelevance, MetricCoherence, MetricFluency}

// Request is one evaluation: the question the workflow answered, the
// final synthesis, and the claim facts the answer should be grounded in.
type Request struct {
	ExecutionID string
	ClaimID     string
	Question    string
	Answer      string
	Context     []string
	// Metrics defaults to AllMetrics when empty.
	Metrics []string
}

// Evaluator scores one completed execution.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*model.EvaluationResult, error)
}

// AgentName is the stable name of the evaluator agent on the remote
// service.
const AgentName = "quality_evaluator"

const evaluatorInstructions = `You are a strict quality evaluator for insurance claim assessments.

You are given a question, an answer, and the context facts the answer must
be grounded in. Score the answer on each requested metric from 1 (worst)
to 5 (best):

- groundedness: every statement is supported by the context facts
- relevance: the answer addresses the question that was asked
- coherence: the answer is logically structured and internally consistent
- fluency: the answer reads as clear, well-formed prose

Respond with a single JSON object and nothing else, for example:
{"groundedness": 4, "relevance": 5, "coherence": 4, "fluency": 5, "reasoning": "one short sentence"}`

// AgentEvaluator runs the evaluator agent through the run driver. The
// agent is created on first use and reused afterwards.
type AgentEvaluator struct {
	client agentruntime.Client
	runner Runner
	model  string
	logger *slog.Logger

	mu      sync.Mutex
	agentID string
}

// Runner is the slice of the run driver the evaluator uses.
type Runner interface {
	Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error)
}

// NewAgentEvaluator builds an evaluator using the given model deployment.
func NewAgentEvaluator(client agentruntime.Client, runner Runner, modelName string, log *slog.Logger) *AgentEvaluator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &AgentEvaluator{client: client, runner: runner, model: modelName, logger: log}
}

// Evaluate scores one execution. Failures return an error; callers treat
// evaluation as best-effort and log rather than propagate.
func (e *AgentEvaluator) Evaluate(ctx context.Context, req Request) (*model.EvaluationResult, error) {
	if req.Answer == "" {
		return nil, fmt.Errorf("evaluation request has no answer")
	}
	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = AllMetrics
	}

	agentID, err := e.ensureAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure evaluator agent: %w", err)
	}

	result, err := e.runner.Run(ctx, agentruntime.RunParams{
		AgentID:   agentID,
		AgentName: "evaluator",
		Model:     e.model,
		Message:   buildPrompt(req, metrics),
		Operation: model.OperationEvaluation,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator run failed: %w", err)
	}
	if result.Failed() {
		return nil, fmt.Errorf("evaluator run failed: %s", result.FailureReason)
	}

	scores, reasoning := parseScores(result.LastAssistantText())
	if len(scores) == 0 {
		return nil, fmt.Errorf("no scores found in evaluator response")
	}

	out := &model.EvaluationResult{
		ExecutionID: req.ExecutionID,
		ClaimID:     req.ClaimID,
		Reasoning:   reasoning,
		Evaluator:   AgentName,
		EvaluatedAt: time.Now().UTC(),
	}
	for _, metric := range metrics {
		score, ok := scores[metric]
		if !ok {
			continue
		}
		switch metric {
		case MetricGroundedness:
			out.Groundedness = score
		case MetricRelevance:
			out.Relevance = score
		case MetricCoherence:
			out.Coherence = score
		case MetricFluency:
			out.Fluency = score
		}
	}
	out.ComputeOverall()
	if out.Overall == 0 {
		return nil, fmt.Errorf("evaluator response scored none of the requested metrics")
	}
	return out, nil
}

// ensureAgent creates or rediscovers the evaluator agent by name.
func (e *AgentEvaluator) ensureAgent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.agentID != "" {
		return e.agentID, nil
	}

	agents, err := e.client.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range agents {
		if a.Name == AgentName {
			e.agentID = a.ID
			return e.agentID, nil
		}
	}

	created, err := e.client.CreateAgent(ctx, agentruntime.AgentSpec{
		Name:         AgentName,
		Model:        e.model,
		Instructions: evaluatorInstructions,
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("Evaluator agent created",
		"agent_id", created.ID,
		"model", e.model)
	e.agentID = created.ID
	return e.agentID, nil
}

func buildPrompt(req Request, metrics []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score the following assessment on: %s.\n\n", strings.Join(metrics, ", "))
	fmt.Fprintf(&b, "Question:\n%s\n\n", req.Question)
	fmt.Fprintf(&b, "Answer:\n%s\n\n", req.Answer)
	if len(req.Context) > 0 {
		b.WriteString("Context facts:\n")
		for _, c := range req.Context {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

// parseScores extracts metric scores from the evaluator's reply. The JSON
// object form is preferred; when the model wraps it in prose, the first
// balanced object is tried, then a lenient "metric: N" line scan. Scores
// are clamped to [1, 5].
func parseScores(response string) (map[string]float64, string) {
	type reply struct {
		Groundedness float64 `json:"groundedness"`
		Relevance    float64 `json:"relevance"`
		Coherence    float64 `json:"coherence"`
		Fluency      float64 `json:"fluency"`
		Reasoning    string  `json:"reasoning"`
	}

	if raw := firstJSONObject(response); raw != "" {
		var r reply
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			scores := map[string]float64{}
			for metric, v := range map[string]float64{
				MetricGroundedness: r.Groundedness,
				MetricRelevance:    r.Relevance,
				MetricCoherence:    r.Coherence,
				MetricFluency:      r.Fluency,
			} {
				if v > 0 {
					scores[metric] = clampScore(v)
				}
			}
			if len(scores) > 0 {
				return scores, r.Reasoning
			}
		}
	}

	// Lenient fallback: look for "metric ... number" lines.
	scores := map[string]float64{}
	for _, line := range strings.Split(response, "\n") {
		lowered := strings.ToLower(line)
		for _, metric := range AllMetrics {
			idx := strings.Index(lowered, metric)
			if idx < 0 {
				continue
			}
			var v float64
			for _, field := range strings.Fields(strings.NewReplacer(":", " ", "=", " ", ",", " ", "/", " ").Replace(lowered[idx+len(metric):])) {
				if _, err := fmt.Sscanf(field, "%f", &v); err == nil && v > 0 {
					scores[metric] = clampScore(v)
					break
				}
			}
		}
	}
	return scores, ""
}

// firstJSONObject returns the first balanced {...} block in s, or "".
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func clampScore(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
