package observability

const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrAgentName       = "agent.name"
	AttrAgentType       = "agent.type"
	AttrToolName        = "tool.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrTokensEstimated = "llm.tokens.estimated"
	AttrOperation       = "arbiter.operation"
	AttrClaimID         = "claim.id"
	AttrExecutionID     = "execution.id"
	AttrThreadID        = "thread.id"
	AttrRunID           = "run.id"
	AttrErrorType       = "error.type"
	AttrStatusCode      = "http.status_code"

	SpanAgentRun      = "agent.run"
	SpanToolExecution = "agent.tool_execution"
	SpanClaimProcess  = "claim.process"
	SpanEvaluation    = "evaluation.run"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName  = "arbiter"
	DefaultOTLPEndpoint = "localhost:4317"
)

// DefaultSamplingRate is the default trace sampling rate.
const DefaultSamplingRate = 1.0
