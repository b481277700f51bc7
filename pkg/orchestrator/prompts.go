package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
)

// BuildClaimPrompt assembles the supervisor's opening message: the claim as
// indented JSON followed by the enumerated delegation order. The bearer
// token is excluded from serialization by the Claim type itself.
func BuildClaimPrompt(claim model.Claim, analytics bool) string {
	data, _ := json.MarshalIndent(claim, "", "  ")

	var b strings.Builder
	b.WriteString("Process this insurance claim through the specialist workflow.\n\nClaim data:\n")
	b.Write(data)
	b.WriteString("\n\n")
	writeWorkflowInstruction(&b, analytics)
	return b.String()
}

func writeWorkflowInstruction(b *strings.Builder, analytics bool) {
	order := specialist.WorkflowOrder(analytics)

	b.WriteString("Required workflow:\n")
	for i, name := range order {
		fmt.Fprintf(b, "%d. Call %s%s with the relevant claim data.\n", i+1, specialist.ToolPrefix, name)
	}
	fmt.Fprintf(b, "%d. Synthesize all specialist findings into the final assessment.\n", len(order)+1)
	b.WriteString("\nCall every specialist above exactly once, in order, before writing the synthesis. Do not skip a specialist even if an earlier one reports an error.")
}

// claimContext lists the populated claim fields as grounding context for
// answer evaluation.
func claimContext(claim model.Claim) []string {
	ctx := []string{"claim_id: " + claim.ClaimID}
	if claim.ClaimType != "" {
		ctx = append(ctx, "claim_type: "+claim.ClaimType)
	}
	if claim.ClaimantID != "" {
		ctx = append(ctx, "claimant_id: "+claim.ClaimantID)
	}
	if claim.ClaimantName != "" {
		ctx = append(ctx, "claimant_name: "+claim.ClaimantName)
	}
	if claim.State != "" {
		ctx = append(ctx, "state: "+claim.State)
	}
	if claim.PolicyNumber != "" {
		ctx = append(ctx, "policy_number: "+claim.PolicyNumber)
	}
	if claim.EstimatedDamage > 0 {
		ctx = append(ctx, fmt.Sprintf("estimated_damage: %.2f", claim.EstimatedDamage))
	}
	if claim.Description != "" {
		ctx = append(ctx, "description: "+claim.Description)
	}
	return ctx
}
