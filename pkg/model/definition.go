package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrVersionNotGreater rejects a bump whose next version does not exceed
// the current one.
var ErrVersionNotGreater = errors.New("next version must be greater than current version")

// ToolSpec is the serializable description of one tool attached to an
// agent definition. The invocable half of a tool lives in the runtime; this
// is only the declared contract.
type ToolSpec struct {
	Name        string         `json:"name"`
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// AgentVersion is one historical entry of an agent definition.
type AgentVersion struct {
	Version         string    `json:"version"`
	Instructions    string    `json:"instructions"`
	ModelDeployment string    `json:"model_deployment"`
	Temperature     float64   `json:"temperature"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AgentDefinition describes one specialist: its stable name, current
// version, prompt, deployment, and declared tools. Updates happen only
// through BumpVersion, which pushes the replaced version onto the
// append-only history.
type AgentDefinition struct {
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Instructions    string         `json:"instructions"`
	ModelDeployment string         `json:"model_deployment"`
	Temperature     float64        `json:"temperature"`
	Tools           []ToolSpec     `json:"tools,omitempty"`
	IsActive        bool           `json:"is_active"`
	VersionHistory  []AgentVersion `json:"version_history,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ValidateDefinition checks an agent definition for structural errors.
func ValidateDefinition(d AgentDefinition) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", d.Version, err)
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %f", d.Temperature)
	}
	for _, v := range d.VersionHistory {
		if v.Version == d.Version {
			return fmt.Errorf("current version %s must not appear in its own history", d.Version)
		}
	}
	return nil
}

// BumpVersion replaces the definition's current version with next, pushing
// the replaced version onto VersionHistory. The new version must be a
// strictly greater semver than the current one.
func (d *AgentDefinition) BumpVersion(next AgentVersion) error {
	cur, err := semver.NewVersion(d.Version)
	if err != nil {
		return fmt.Errorf("current version %q is not valid semver: %w", d.Version, err)
	}
	nv, err := semver.NewVersion(next.Version)
	if err != nil {
		return fmt.Errorf("next version %q is not valid semver: %w", next.Version, err)
	}
	if !nv.GreaterThan(cur) {
		return fmt.Errorf("%w: %s does not exceed %s", ErrVersionNotGreater, next.Version, d.Version)
	}

	now := time.Now().UTC()
	d.VersionHistory = append(d.VersionHistory, AgentVersion{
		Version:         d.Version,
		Instructions:    d.Instructions,
		ModelDeployment: d.ModelDeployment,
		Temperature:     d.Temperature,
		UpdatedAt:       d.UpdatedAt,
	})

	d.Version = next.Version
	if next.Instructions != "" {
		d.Instructions = next.Instructions
	}
	if next.ModelDeployment != "" {
		d.ModelDeployment = next.ModelDeployment
	}
	if next.Temperature != 0 {
		d.Temperature = next.Temperature
	}
	d.UpdatedAt = now
	return nil
}
