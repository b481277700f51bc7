package specialist

import (
	"sync"

	"github.com/arbiterhq/arbiter/pkg/model"
)

// StepRecorder collects the specialist steps of one orchestration call.
// One recorder is created per call and handed to the delegation adapters;
// the orchestrator reads the steps back when assembling the execution
// record. Dispatch is sequential per run, but a requires-action batch may
// fan out, so recording is guarded.
type StepRecorder struct {
	mu    sync.Mutex
	steps []model.AgentStepExecution
}

// NewStepRecorder builds an empty recorder.
func NewStepRecorder() *StepRecorder {
	return &StepRecorder{}
}

// Record appends one completed specialist step.
func (r *StepRecorder) Record(step model.AgentStepExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

// Steps returns the recorded steps in invocation order.
func (r *StepRecorder) Steps() []model.AgentStepExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AgentStepExecution, len(r.steps))
	copy(out, r.steps)
	return out
}
