package model

import (
	"testing"
	"time"
)

func TestValidateDefinition(t *testing.T) {
	valid := AgentDefinition{
		Name:            "claim_assessor",
		Version:         "1.0.0",
		Instructions:    "Assess the damage described in the claim.",
		ModelDeployment: "gpt-4o",
		Temperature:     0.2,
	}

	tests := []struct {
		name    string
		mutate  func(*AgentDefinition)
		wantErr bool
	}{
		{"valid", func(d *AgentDefinition) {}, false},
		{"missing name", func(d *AgentDefinition) { d.Name = "  " }, true},
		{"bad semver", func(d *AgentDefinition) { d.Version = "one" }, true},
		{"temperature too high", func(d *AgentDefinition) { d.Temperature = 2.5 }, true},
		{"temperature negative", func(d *AgentDefinition) { d.Temperature = -0.1 }, true},
		{"current version in history", func(d *AgentDefinition) {
			d.VersionHistory = []AgentVersion{{Version: "1.0.0"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := ValidateDefinition(d)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDefinition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBumpVersion(t *testing.T) {
	d := AgentDefinition{
		Name:            "risk_analyst",
		Version:         "1.0.0",
		Instructions:    "v1 instructions",
		ModelDeployment: "gpt-4o",
		Temperature:     0.3,
		UpdatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := d.BumpVersion(AgentVersion{Version: "1.1.0", Instructions: "v2 instructions"}); err != nil {
		t.Fatalf("BumpVersion() error = %v", err)
	}

	if d.Version != "1.1.0" {
		t.Errorf("Version = %q, want %q", d.Version, "1.1.0")
	}
	if d.Instructions != "v2 instructions" {
		t.Errorf("Instructions = %q, want %q", d.Instructions, "v2 instructions")
	}
	if len(d.VersionHistory) != 1 || d.VersionHistory[0].Version != "1.0.0" {
		t.Fatalf("VersionHistory = %+v, want single 1.0.0 entry", d.VersionHistory)
	}
	if d.VersionHistory[0].Instructions != "v1 instructions" {
		t.Errorf("history instructions = %q, want v1 instructions", d.VersionHistory[0].Instructions)
	}
	if err := ValidateDefinition(d); err != nil {
		t.Errorf("bumped definition invalid: %v", err)
	}
}

func TestBumpVersionOrdering(t *testing.T) {
	d := AgentDefinition{Name: "policy_checker", Version: "1.0.0"}

	for _, v := range []string{"1.0.1", "1.1.0", "2.0.0"} {
		if err := d.BumpVersion(AgentVersion{Version: v}); err != nil {
			t.Fatalf("BumpVersion(%s) error = %v", v, err)
		}
	}

	want := []string{"1.0.0", "1.0.1", "1.1.0"}
	if len(d.VersionHistory) != len(want) {
		t.Fatalf("history length = %d, want %d", len(d.VersionHistory), len(want))
	}
	for i, v := range want {
		if d.VersionHistory[i].Version != v {
			t.Errorf("history[%d] = %s, want %s", i, d.VersionHistory[i].Version, v)
		}
	}

	// A downgrade or re-registration of the same version must be rejected.
	if err := d.BumpVersion(AgentVersion{Version: "2.0.0"}); err == nil {
		t.Error("BumpVersion(same version) expected error, got nil")
	}
	if err := d.BumpVersion(AgentVersion{Version: "1.5.0"}); err == nil {
		t.Error("BumpVersion(lower version) expected error, got nil")
	}
}
