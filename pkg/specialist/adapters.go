package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/tool"
	"github.com/arbiterhq/arbiter/pkg/usage"
)

// Runner is the slice of the run driver the adapters use.
type Runner interface {
	Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error)
}

// DelegationArgs is the argument contract of every delegation tool: the
// supervisor passes the slice of the claim (or the request) relevant to
// the specialist.
type DelegationArgs struct {
	Context string `json:"context" jsonschema:"required,description=Relevant claim data or request for the specialist"`
}

// delegationSchema is generated once; every delegation tool shares the
// same parameter contract.
var delegationSchema = func() map[string]any {
	schema, err := tool.GenerateSchema[DelegationArgs]()
	if err != nil {
		panic(fmt.Sprintf("delegation schema: %v", err))
	}
	return schema
}()

// AdapterConfig carries the per-delegation run limits.
type AdapterConfig struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
}

// Adapters exposes each specialist as a tool the supervisor can invoke.
// Adapters never throw into the supervisor's run: every failure mode is
// converted to a string tool response.
type Adapters struct {
	registry *Registry
	catalog  *Catalog
	runner   Runner
	fallback *Fallback
	cfg      AdapterConfig
	logger   *slog.Logger
}

// NewAdapters builds the adapter set. fallback may be nil when the
// analytics specialist is never deployed.
func NewAdapters(reg *Registry, catalog *Catalog, runner Runner, fallback *Fallback, cfg AdapterConfig, log *slog.Logger) *Adapters {
	if log == nil {
		log = logger.GetLogger()
	}
	if fallback == nil {
		fallback = NewFallback(nil, log)
	}
	return &Adapters{
		registry: reg,
		catalog:  catalog,
		runner:   runner,
		fallback: fallback,
		cfg:      cfg,
		logger:   log,
	}
}

// CallScope is the per-orchestration state one delegation closes over: the
// claim under assessment, the caller's bearer token, and the recorder the
// steps land in. The token is forwarded, never stored.
type CallScope struct {
	Claim     model.Claim
	UserToken string
	Recorder  *StepRecorder
}

// DelegationTools builds the supervisor's toolset for one orchestration
// call. The analytics specialist is included only when the feature flag is
// set, which is why the list is recomputed per call.
func (a *Adapters) DelegationTools(scope *CallScope, analytics bool) []tool.Descriptor {
	order := WorkflowOrder(analytics)
	descs := make([]tool.Descriptor, 0, len(order))
	for _, name := range order {
		def, ok := a.catalog.Specialist(name)
		if !ok {
			continue
		}
		descs = append(descs, tool.Descriptor{
			Name:        def.ToolName(),
			Description: def.Description,
			Parameters:  delegationSchema,
			Invoke:      a.invoker(def.Name, scope),
		})
	}
	return descs
}

// AgentTools converts descriptors to the remote toolset shape for the
// supervisor's agent spec.
func AgentTools(descs []tool.Descriptor) []agentruntime.AgentTool {
	tools := make([]agentruntime.AgentTool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, agentruntime.AgentTool{
			Type: agentruntime.ToolTypeFunction,
			Function: &agentruntime.FunctionSpec{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

func (a *Adapters) invoker(name string, scope *CallScope) tool.Invoker {
	return func(ctx context.Context, args tool.Arguments) (any, error) {
		return a.delegate(ctx, name, scope, args.StringField("context")), nil
	}
}

// delegate runs one specialist on behalf of the supervisor and returns its
// response as a string. Lookup misses and run errors come back as
// synthesized error strings so the supervisor's run continues.
func (a *Adapters) delegate(ctx context.Context, name string, scope *CallScope, request string) string {
	display := DisplayName(name)

	def, ok := a.catalog.Specialist(name)
	if !ok {
		return fmt.Sprintf("Error: %s agent not available", display)
	}
	reg, err := a.registry.Lookup(name)
	if err != nil {
		a.logger.Warn("Specialist unavailable for delegation",
			"specialist", name,
			"error", err)
		output := fmt.Sprintf("Error: %s agent not available", display)
		now := time.Now()
		a.record(scope, def, now, request, output, nil, model.StatusFailed)
		return output
	}

	params := agentruntime.RunParams{
		AgentID:         reg.RemoteID,
		AgentName:       name,
		Model:           def.Model,
		Functions:       reg.ToolFunctions,
		PollInterval:    a.cfg.PollInterval,
		MaxPollDuration: a.cfg.MaxPollDuration,
	}

	var kind QueryKind
	var query string
	if name == ClaimsDataAnalyst {
		kind, query = ClassifyClaim(scope.Claim)
		params.Message = query
		params.ToolChoice = agentruntime.ForceToolType(agentruntime.ToolTypeFabric)
		params.UserToken = scope.UserToken
	} else {
		params.Message = ShapePrompt(name, scope.Claim, request)
	}

	started := time.Now()
	result, err := a.runner.Run(ctx, params)
	if err != nil {
		a.logger.Error("Specialist delegation failed",
			"specialist", name,
			"error", err)
		output := fmt.Sprintf("Error from %s: %v", display, err)
		a.record(scope, def, started, params.Message, output, result, model.StatusFailed)
		return output
	}

	output := result.LastAssistantText()
	status := model.StatusCompleted
	if result.Failed() {
		status = model.StatusFailed
	} else if name == ClaimsDataAnalyst {
		output = a.finishAnalytics(ctx, scope.Claim, kind, query, output)
	}

	a.record(scope, def, started, params.Message, output, result, status)
	return output
}

// finishAnalytics applies the data-analytics post-processing: soft-failure
// detection with local fallback, then the query annotation header.
func (a *Adapters) finishAnalytics(ctx context.Context, claim model.Claim, kind QueryKind, query, response string) string {
	if phrase := DetectSoftFailure(response); phrase != "" || response == "" {
		a.logger.Warn("Data agent response indicates a data access failure, using fallback",
			"claim_id", claim.ClaimID,
			"phrase", phrase)
		return AnnotateQuery(query, a.fallback.Content(ctx, claim, kind))
	}
	return AnnotateQuery(query, response)
}

// record appends the step to the scope's recorder, pricing the reported
// usage with the specialist's model rates.
func (a *Adapters) record(scope *CallScope, def Definition, started time.Time, input, output string, result *agentruntime.RunResult, status model.ExecutionStatus) {
	if scope.Recorder == nil {
		return
	}

	completed := time.Now()
	step := model.AgentStepExecution{
		AgentType:    def.Name,
		AgentVersion: def.Version,
		StartedAt:    started.UTC(),
		CompletedAt:  completed.UTC(),
		DurationMS:   completed.Sub(started).Milliseconds(),
		InputData:    input,
		OutputData:   output,
		Status:       status,
	}
	if result != nil {
		step.TokenUsage = model.TokenUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
		rate, known := usage.Rates(def.Model)
		if !known && def.Model != "" {
			a.logger.Warn("Unknown model in pricing table, using fallback rates",
				"model", def.Model,
				"fallback", usage.FallbackModel)
		}
		step.Cost = usage.ComputeCost(rate, result.Usage.PromptTokens, result.Usage.CompletionTokens).Total
	}
	scope.Recorder.Record(step)
}

// ShapePrompt builds the specialist-specific prompt. The policy checker
// gets the claim fields it must verify plus a search reminder; everyone
// else gets the supervisor's request followed by the claim details.
func ShapePrompt(name string, claim model.Claim, request string) string {
	var b strings.Builder

	if name == PolicyChecker {
		b.WriteString("Review policy coverage for this claim.\n\n")
		writeClaimFields(&b, claim)
		if request != "" {
			b.WriteString("\n")
			b.WriteString(request)
			b.WriteString("\n")
		}
		b.WriteString("\nRemember to search the policy knowledge base by claim type.")
		return b.String()
	}

	if request != "" {
		b.WriteString(request)
		b.WriteString("\n\n")
	}
	b.WriteString("Claim details:\n")
	writeClaimFields(&b, claim)
	return strings.TrimRight(b.String(), "\n")
}

// writeClaimFields writes the populated claim fields, one per line. A
// zero-field claim still yields its id so every specialist has something
// to work from.
func writeClaimFields(b *strings.Builder, claim model.Claim) {
	fmt.Fprintf(b, "Claim ID: %s\n", claim.ClaimID)
	if claim.ClaimType != "" {
		fmt.Fprintf(b, "Claim type: %s\n", claim.ClaimType)
	}
	if claim.ClaimantID != "" {
		fmt.Fprintf(b, "Claimant ID: %s\n", claim.ClaimantID)
	}
	if claim.ClaimantName != "" {
		fmt.Fprintf(b, "Claimant name: %s\n", claim.ClaimantName)
	}
	if claim.State != "" {
		fmt.Fprintf(b, "State: %s\n", claim.State)
	}
	if claim.PolicyNumber != "" {
		fmt.Fprintf(b, "Policy number: %s\n", claim.PolicyNumber)
	}
	if claim.EstimatedDamage > 0 {
		fmt.Fprintf(b, "Estimated damage: $%.2f\n", claim.EstimatedDamage)
	}
	if claim.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", claim.Description)
	}
	if len(claim.Documents) > 0 {
		fmt.Fprintf(b, "Documents: %s\n", strings.Join(claim.Documents, ", "))
	}
	if len(claim.Images) > 0 {
		fmt.Fprintf(b, "Images: %s\n", strings.Join(claim.Images, ", "))
	}
}
