// Package model defines the data types that flow through the claim
// orchestration runtime: claims, agent definitions, execution records,
// token usage, evaluation results, and trace chunks.
//
// Types here are plain records. Validation lives in explicit functions so
// that DTOs stay serializable and side-effect free.
package model

import (
	"fmt"
	"strings"
)

// Claim is the input to one orchestration run. It is immutable for the
// duration of the run.
type Claim struct {
	ClaimID         string   `json:"claim_id"`
	ClaimType       string   `json:"claim_type"`
	ClaimantID      string   `json:"claimant_id"`
	ClaimantName    string   `json:"claimant_name"`
	State           string   `json:"state"`
	PolicyNumber    string   `json:"policy_number"`
	EstimatedDamage float64  `json:"estimated_damage"`
	Description     string   `json:"description"`
	Documents       []string `json:"documents,omitempty"`
	Images          []string `json:"images,omitempty"`

	// BearerToken authorizes on-behalf-of data access for the analytics
	// specialist. It is owned by the caller, forwarded to the agent service
	// unchanged, and must never be serialized, persisted, or logged.
	BearerToken string `json:"-"`
}

// ValidateClaim checks the minimal shape a claim must have before a run.
// Only claim_id is strictly required; a zero-field claim with an id still
// processes end to end.
func ValidateClaim(c Claim) error {
	if strings.TrimSpace(c.ClaimID) == "" {
		return fmt.Errorf("claim_id is required")
	}
	if c.EstimatedDamage < 0 {
		return fmt.Errorf("estimated_damage cannot be negative, got %f", c.EstimatedDamage)
	}
	return nil
}
