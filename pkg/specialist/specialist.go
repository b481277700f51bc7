// Package specialist defines the claim-assessment specialists: their
// catalog (names, instructions, deployments), the registry mapping each
// name to its remote agent identity, the deployment pass that creates or
// rediscovers agents on the remote service, and the delegation adapters
// that expose each specialist as a supervisor tool.
package specialist

import (
	"strings"
	"sync"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
)

// Specialist names. These are the stable identities used for remote agent
// rediscovery, registry lookups, and trace agent keys.
const (
	Supervisor         = "supervisor"
	ClaimAssessor      = "claim_assessor"
	PolicyChecker      = "policy_checker"
	RiskAnalyst        = "risk_analyst"
	CommunicationAgent = "communication_agent"
	ClaimsDataAnalyst  = "claims_data_analyst"
)

// ToolPrefix prefixes every delegation tool name. Trace building strips it
// to recover the specialist name (call_risk_analyst -> risk_analyst).
const ToolPrefix = "call_"

// DefaultVersion is the definition version assigned to specialists that
// have never been version-bumped.
const DefaultVersion = "1.0.0"

// WorkflowOrder returns the specialist invocation order for one run. The
// analytics specialist slots in after the policy check so its findings are
// available to the risk analyst.
func WorkflowOrder(analytics bool) []string {
	if analytics {
		return []string{ClaimAssessor, PolicyChecker, ClaimsDataAnalyst, RiskAnalyst, CommunicationAgent}
	}
	return []string{ClaimAssessor, PolicyChecker, RiskAnalyst, CommunicationAgent}
}

// Definition is the deployable description of one agent: the remote agent
// spec plus the local metadata the adapters need.
type Definition struct {
	Name         string
	DisplayName  string
	Description  string
	Version      string
	Instructions string
	Model        string
	Temperature  float64
	Tools        []agentruntime.AgentTool
}

// ToolName returns the delegation tool name for this specialist.
func (d Definition) ToolName() string {
	return ToolPrefix + d.Name
}

// Override replaces selected fields of a catalog definition. Zero-valued
// fields leave the base definition untouched.
type Override struct {
	Version      string
	Instructions string
	Model        string
	Temperature  float64
}

// CatalogConfig seeds a catalog.
type CatalogConfig struct {
	// SpecialistModel is the deployment every specialist uses unless
	// overridden. SupervisorModel defaults to it when empty.
	SpecialistModel string
	SupervisorModel string
	Temperature     float64
	// Instructions maps specialist names to prompt overrides.
	Instructions map[string]string
	// FabricTool is the connector configuration attached to the
	// data-analytics specialist, keyed the way the remote service expects.
	FabricTool map[string]any
}

// Catalog holds the definitions of every known agent. Base definitions are
// fixed; instructions, versions, and deployments can be overridden at
// runtime (config hot-reload, version bumps), so reads take a lock.
type Catalog struct {
	mu        sync.RWMutex
	cfg       CatalogConfig
	overrides map[string]Override
}

// NewCatalog builds a catalog. Instruction overrides from cfg are applied
// on top of the built-in defaults.
func NewCatalog(cfg CatalogConfig) *Catalog {
	if cfg.SupervisorModel == "" {
		cfg.SupervisorModel = cfg.SpecialistModel
	}
	c := &Catalog{cfg: cfg, overrides: make(map[string]Override)}
	for name, instructions := range cfg.Instructions {
		if instructions != "" {
			c.overrides[name] = Override{Instructions: instructions}
		}
	}
	return c
}

// Known reports whether a name belongs to the catalog, supervisor
// included. Registry lookups use it to tell an unknown agent apart from
// one that is known but not yet deployed.
func (c *Catalog) Known(name string) bool {
	if name == Supervisor {
		return true
	}
	_, ok := baseDefinitions[name]
	return ok
}

// Specialist returns the current definition for a specialist name.
func (c *Catalog) Specialist(name string) (Definition, bool) {
	base, ok := baseDefinitions[name]
	if !ok {
		return Definition{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	def := base
	def.Version = DefaultVersion
	def.Model = c.cfg.SpecialistModel
	def.Temperature = c.cfg.Temperature
	if name == ClaimsDataAnalyst {
		def.Tools = []agentruntime.AgentTool{{
			Type:   agentruntime.ToolTypeFabric,
			Fabric: c.cfg.FabricTool,
		}}
	}
	c.apply(&def)
	return def, true
}

// Specialists returns the definitions for one workflow variant, in
// invocation order.
func (c *Catalog) Specialists(analytics bool) []Definition {
	order := WorkflowOrder(analytics)
	defs := make([]Definition, 0, len(order))
	for _, name := range order {
		if def, ok := c.Specialist(name); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// SupervisorDefinition returns the supervisor agent definition with the
// given delegation toolset attached. The toolset varies per call, so it is
// a parameter rather than catalog state.
func (c *Catalog) SupervisorDefinition(tools []agentruntime.AgentTool) Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def := Definition{
		Name:         Supervisor,
		DisplayName:  "Supervisor",
		Description:  "Coordinates the specialist workflow and synthesizes the final assessment.",
		Version:      DefaultVersion,
		Instructions: supervisorInstructions,
		Model:        c.cfg.SupervisorModel,
		Temperature:  c.cfg.Temperature,
		Tools:        tools,
	}
	c.apply(&def)
	return def
}

// SetOverride replaces the override for one agent. Used by version bumps
// to swap in updated instructions or deployments.
func (c *Catalog) SetOverride(name string, ov Override) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[name] = ov
}

// SetInstructionOverrides replaces the instruction overrides wholesale,
// keeping any version or deployment overrides in place. Called on config
// hot-reload.
func (c *Catalog) SetInstructionOverrides(instructions map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, ov := range c.overrides {
		ov.Instructions = ""
		c.overrides[name] = ov
	}
	for name, text := range instructions {
		if text == "" {
			continue
		}
		ov := c.overrides[name]
		ov.Instructions = text
		c.overrides[name] = ov
	}
}

// apply folds the stored override into def. Callers hold c.mu.
func (c *Catalog) apply(def *Definition) {
	ov, ok := c.overrides[def.Name]
	if !ok {
		return
	}
	if ov.Version != "" {
		def.Version = ov.Version
	}
	if ov.Instructions != "" {
		def.Instructions = ov.Instructions
	}
	if ov.Model != "" {
		def.Model = ov.Model
	}
	if ov.Temperature != 0 {
		def.Temperature = ov.Temperature
	}
}

// DisplayName resolves the human-readable name used in synthesized error
// strings ("Error: Policy Checker agent not available").
func DisplayName(name string) string {
	if def, ok := baseDefinitions[name]; ok {
		return def.DisplayName
	}
	if name == Supervisor {
		return "Supervisor"
	}
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

var baseDefinitions = map[string]Definition{
	ClaimAssessor: {
		Name:         ClaimAssessor,
		DisplayName:  "Claim Assessor",
		Description:  "Evaluates claim completeness, damage consistency, and documentation.",
		Instructions: claimAssessorInstructions,
	},
	PolicyChecker: {
		Name:         PolicyChecker,
		DisplayName:  "Policy Checker",
		Description:  "Verifies policy coverage, limits, and exclusions for the claimed loss.",
		Instructions: policyCheckerInstructions,
	},
	RiskAnalyst: {
		Name:         RiskAnalyst,
		DisplayName:  "Risk Analyst",
		Description:  "Scores fraud and risk indicators across the claim and its history.",
		Instructions: riskAnalystInstructions,
	},
	CommunicationAgent: {
		Name:         CommunicationAgent,
		DisplayName:  "Communication",
		Description:  "Drafts the customer-facing summary of the assessment outcome.",
		Instructions: communicationInstructions,
	},
	ClaimsDataAnalyst: {
		Name:         ClaimsDataAnalyst,
		DisplayName:  "Claims Data Analyst",
		Description:  "Answers analytical questions against the historical claims data store.",
		Instructions: claimsDataAnalystInstructions,
	},
}

const claimAssessorInstructions = `You are a senior insurance claim assessor.

Evaluate the claim data you are given:
- Check that the estimated damage is consistent with the incident description.
- Identify missing or inconsistent fields and missing documentation.
- Note anything that would change the claim's severity classification.

Respond with concise, factual findings. Do not speculate beyond the data
provided. End with a short bullet list titled FINDINGS.`

const policyCheckerInstructions = `You are an insurance policy coverage specialist.

Determine whether the described loss is covered under the referenced policy:
- Search the policy knowledge base by claim type to find the applicable
  coverage sections, limits, and deductibles.
- Call out exclusions or endorsements that could apply.
- State clearly whether coverage appears to apply, and under which section.

Respond with concise, factual findings. If the policy number or claim type
is missing, say which coverage facts cannot be verified.`

const riskAnalystInstructions = `You are an insurance fraud and risk analyst.

Assess the claim for risk signals:
- Flag inconsistencies between the damage estimate, claim type, and
  description.
- Weigh any historical claim patterns or data analysis you are given.
- Classify overall risk as LOW, MEDIUM, or HIGH and justify the rating.

Be specific about which signals drove the rating. Absence of data is an
information gap, not evidence of fraud.`

const communicationInstructions = `You draft customer communications for an insurance company.

Given the assessment findings, write a short, clear, empathetic message to
the claimant summarizing the status of their claim and any next steps or
documents needed from them. Do not state a final coverage decision unless
the findings contain one. Plain language, no internal jargon.`

const claimsDataAnalystInstructions = `You are a claims data analyst with access to the historical claims data store.

Answer the analytical question you are given by querying the data. Return
concise findings as a small table plus one or two summary sentences. If a
query returns no rows, say so explicitly.`

const supervisorInstructions = `You are the supervising orchestrator for insurance claim assessments.

You coordinate specialist agents by calling the tools you have been given.
The user message tells you which specialists to call and in which order.
You must call every listed specialist exactly once, in the given order,
before synthesizing. Do not skip a specialist, even if its response is an
error; record the gap and continue. Base your synthesis only on the
specialist responses collected in this conversation.

When every specialist has responded, end your reply with exactly this
structure:

ASSESSMENT_COMPLETE

PRIMARY RECOMMENDATION: one of APPROVE, DENY, INVESTIGATE (confidence: HIGH, MEDIUM, or LOW)

SUPPORTING FACTORS:
- factor

RISK FACTORS:
- factor

INFORMATION GAPS:
- gap

RECOMMENDED NEXT STEPS:
- step`
