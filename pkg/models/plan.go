package models

import (
	"fmt"
	"time"
)

// SubAgentType identifies a role-specialized sub-agent.
type SubAgentType string

const (
	SubAgentPlanner     SubAgentType = "planner"
	SubAgentResearcher  SubAgentType = "researcher"
	SubAgentAnalyzer    SubAgentType = "analyzer"
	SubAgentExecutor    SubAgentType = "executor"
	SubAgentSynthesizer SubAgentType = "synthesizer"
)

// ValidSubAgent reports whether t names a known sub-agent role.
func ValidSubAgent(t SubAgentType) bool {
	switch t {
	case SubAgentPlanner, SubAgentResearcher, SubAgentAnalyzer, SubAgentExecutor, SubAgentSynthesizer:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// PlanStep is one unit of work in an execution plan, dispatched to a single
// sub-agent once all of its dependencies have completed.
type PlanStep struct {
	ID          string       `json:"id"`
	Order       int          `json:"order"`
	Description string       `json:"description"`
	SubAgent    SubAgentType `json:"sub_agent"`
	Instruction string       `json:"instruction"`
	DependsOn   []string     `json:"depends_on,omitempty"`
	Status      StepStatus   `json:"status"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// ExecutionPlan is the DAG of sub-agent invocations produced by the planner.
type ExecutionPlan struct {
	Query       string      `json:"query"`
	Goal        string      `json:"goal"`
	Steps       []*PlanStep `json:"steps"`
	FinalResult string      `json:"final_result,omitempty"`
	Cancelled   bool        `json:"cancelled,omitempty"`
}

// Step returns the step with the given id, or nil.
func (p *ExecutionPlan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ProgressPercent is completed steps over total, in [0, 100].
func (p *ExecutionPlan) ProgressPercent() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepCompleted {
			done++
		}
	}
	return float64(done) / float64(len(p.Steps)) * 100
}

// Validate checks structural invariants: step ids are unique, every
// dependency names a step in the plan, and the dependency graph is acyclic.
func (p *ExecutionPlan) Validate() error {
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	if cycle := p.findCycle(); cycle != "" {
		return fmt.Errorf("dependency cycle involving step %q", cycle)
	}
	return nil
}

// findCycle returns the id of a step on a dependency cycle, or "".
func (p *ExecutionPlan) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Steps))
	deps := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		deps[s.ID] = s.DependsOn
	}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range p.Steps {
		if color[s.ID] == white {
			if c := visit(s.ID); c != "" {
				return c
			}
		}
	}
	return ""
}
