package usage

import (
	"context"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// Estimator derives token counts from message text for runs where the
// service reported no usage. Estimation is off by default; records it
// produces are flagged Estimated so analytics can separate them from
// service-reported counts.
type Estimator struct {
	tracker *Tracker
	enabled bool
	logger  *slog.Logger
}

// NewEstimator builds an estimator feeding the tracker.
func NewEstimator(tracker *Tracker, enabled bool, log *slog.Logger) *Estimator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Estimator{tracker: tracker, enabled: enabled, logger: log}
}

// Enabled reports whether estimation fallback is active.
func (e *Estimator) Enabled() bool {
	return e != nil && e.enabled
}

// RecordEstimate counts tokens in the prompt and completion text and
// records them as an estimated usage entry. Returns nil when estimation
// is disabled.
func (e *Estimator) RecordEstimate(ctx context.Context, traceID, modelName, agentType, operation, promptText, completionText string) *model.TokenUsageRecord {
	if !e.Enabled() {
		return nil
	}

	promptTokens := CountTokens(modelName, promptText)
	completionTokens := CountTokens(modelName, completionText)

	e.logger.Debug("Estimating token usage from message text",
		"agent_type", agentType,
		"model", modelName,
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens)

	return e.tracker.RecordTokenUsage(ctx, Usage{
		TraceID:          traceID,
		Model:            modelName,
		AgentType:        agentType,
		Operation:        operation,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Success:          true,
		Estimated:        true,
	})
}

// CountTokens counts tokens in text using the model's tokenizer, falling
// back to a characters/4 heuristic when the tokenizer is unavailable.
func CountTokens(modelName, text string) int {
	if text == "" {
		return 0
	}

	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return len(text) / 4
	}

	return len(encoding.Encode(text, nil, nil))
}
