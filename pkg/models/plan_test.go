package models

import (
	"testing"
	"time"
)

func TestExecutionPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    *ExecutionPlan
		wantErr bool
	}{
		{
			name: "valid linear plan",
			plan: &ExecutionPlan{Steps: []*PlanStep{
				{ID: "step_1", SubAgent: SubAgentResearcher},
				{ID: "step_2", SubAgent: SubAgentSynthesizer, DependsOn: []string{"step_1"}},
			}},
		},
		{
			name: "valid diamond",
			plan: &ExecutionPlan{Steps: []*PlanStep{
				{ID: "a"},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"a"}},
				{ID: "d", DependsOn: []string{"b", "c"}},
			}},
		},
		{
			name: "duplicate id",
			plan: &ExecutionPlan{Steps: []*PlanStep{
				{ID: "step_1"},
				{ID: "step_1"},
			}},
			wantErr: true,
		},
		{
			name: "unknown dependency",
			plan: &ExecutionPlan{Steps: []*PlanStep{
				{ID: "step_1", DependsOn: []string{"missing"}},
			}},
			wantErr: true,
		},
		{
			name: "cycle",
			plan: &ExecutionPlan{Steps: []*PlanStep{
				{ID: "a", DependsOn: []string{"b"}},
				{ID: "b", DependsOn: []string{"a"}},
			}},
			wantErr: true,
		},
		{
			name: "empty id",
			plan: &ExecutionPlan{Steps: []*PlanStep{{ID: ""}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgressPercent(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*PlanStep{
		{ID: "a", Status: StepCompleted},
		{ID: "b", Status: StepFailed},
		{ID: "c", Status: StepCompleted},
		{ID: "d", Status: StepPending},
	}}
	if got := plan.ProgressPercent(); got != 50 {
		t.Errorf("ProgressPercent() = %v, want 50", got)
	}

	empty := &ExecutionPlan{}
	if got := empty.ProgressPercent(); got != 0 {
		t.Errorf("ProgressPercent() on empty plan = %v, want 0", got)
	}
}

func TestStepStatusTerminal(t *testing.T) {
	for status, terminal := range map[StepStatus]bool{
		StepPending:   false,
		StepRunning:   false,
		StepCompleted: true,
		StepFailed:    true,
		StepSkipped:   true,
	} {
		if got := status.Terminal(); got != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, terminal)
		}
	}
}

func TestPendingInteractionApproved(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		response map[string]any
		want     bool
	}{
		{"unresolved", nil, false},
		{"approved bool", map[string]any{"approved": true}, true},
		{"denied bool", map[string]any{"approved": false}, false},
		{"confirm approve", map[string]any{"confirm": "Approve"}, true},
		{"confirm reject", map[string]any{"confirm": "Reject"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PendingInteraction{ID: "int-1", Type: InteractionConfirm, CreatedAt: now, Response: tt.response}
			if got := p.Approved(); got != tt.want {
				t.Errorf("Approved() = %v, want %v", got, tt.want)
			}
		})
	}
}
