package model

import (
	"encoding/json"
	"fmt"
)

// Chunk sources. The leading supervisor chunk is a status placeholder,
// specialist chunks come from tool calls, and the closing supervisor chunk
// carries the run's final synthesis.
const (
	ChunkSourceStatus   = "status"
	ChunkSourceToolCall = "tool_call"
	ChunkSourceRun      = "run"
)

// TraceChunk is one unit of the chronological trace. A chunk belongs to
// exactly one agent, or is an error chunk when Error is set.
type TraceChunk struct {
	Agent           string
	Messages        []string
	Source          string
	FinalAssessment bool
	Error           string
}

type chunkBody struct {
	Messages        []string `json:"messages"`
	Source          string   `json:"source,omitempty"`
	FinalAssessment bool     `json:"final_assessment,omitempty"`
}

type errorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// MarshalJSON renders the chunk in its wire shape: an object with a single
// agent-name key, or {"error": true, "message": ...} for error chunks.
func (c TraceChunk) MarshalJSON() ([]byte, error) {
	if c.Error != "" {
		return json.Marshal(errorBody{Error: true, Message: c.Error})
	}
	if c.Agent == "" {
		return nil, fmt.Errorf("trace chunk has neither agent nor error")
	}
	return json.Marshal(map[string]chunkBody{
		c.Agent: {
			Messages:        c.Messages,
			Source:          c.Source,
			FinalAssessment: c.FinalAssessment,
		},
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *TraceChunk) UnmarshalJSON(data []byte) error {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error {
		*c = TraceChunk{Error: eb.Message}
		return nil
	}

	var keyed map[string]chunkBody
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	if len(keyed) != 1 {
		return fmt.Errorf("trace chunk must have exactly one agent key, got %d", len(keyed))
	}
	for agent, body := range keyed {
		*c = TraceChunk{
			Agent:           agent,
			Messages:        body.Messages,
			Source:          body.Source,
			FinalAssessment: body.FinalAssessment,
		}
	}
	return nil
}
