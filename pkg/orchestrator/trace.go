package orchestrator

import (
	"strings"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
)

// ProcessingPlaceholder opens every trace as the supervisor's status chunk.
const ProcessingPlaceholder = "Processing claim through specialist agents..."

// AgentNameFromTool maps a delegation tool name back to the specialist it
// targets. Names without the delegation prefix pass through unchanged.
func AgentNameFromTool(toolName string) string {
	return strings.TrimPrefix(toolName, specialist.ToolPrefix)
}

// BuildTrace converts a supervisor run into the chronological chunk list:
// a leading status chunk, one chunk per delegation in dispatch order, then
// either the supervisor's final synthesis or an error chunk when failure is
// non-empty. Tool outputs are carried verbatim, annotations included.
//
// A run ending failed, cancelled, or expired surfaces no tool results, so
// the interior chunks fall back to the recorded delegation steps; each
// step's output is the same string the tool submitted, which keeps the
// completed specialists in the trace even when the supervisor never
// synthesized.
func BuildTrace(result *agentruntime.RunResult, steps []model.AgentStepExecution, failure string) []model.TraceChunk {
	chunks := make([]model.TraceChunk, 0, len(result.ToolResults)+2)
	chunks = append(chunks, model.TraceChunk{
		Agent:    specialist.Supervisor,
		Messages: []string{ProcessingPlaceholder},
		Source:   model.ChunkSourceStatus,
	})

	if len(result.ToolResults) > 0 {
		for _, tr := range result.ToolResults {
			chunks = append(chunks, model.TraceChunk{
				Agent:    AgentNameFromTool(tr.FunctionName),
				Messages: []string{tr.Output},
				Source:   model.ChunkSourceToolCall,
			})
		}
	} else {
		for _, s := range steps {
			chunks = append(chunks, model.TraceChunk{
				Agent:    s.AgentType,
				Messages: []string{s.OutputData},
				Source:   model.ChunkSourceToolCall,
			})
		}
	}

	if failure != "" {
		return append(chunks, model.TraceChunk{Error: failure})
	}

	return append(chunks, model.TraceChunk{
		Agent:           specialist.Supervisor,
		Messages:        []string{result.LastAssistantText()},
		Source:          model.ChunkSourceRun,
		FinalAssessment: true,
	})
}
