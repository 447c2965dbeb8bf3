package models

type StepType string

const (
	StepTypeSearch  StepType = "search"
	StepTypeCommand StepType = "command"
	StepTypeRespond StepType = "respond"
)

// PlanStep is one step of an execution plan produced by the planner.
type PlanStep struct {
	Type           StepType `json:"type"`
	Purpose        string   `json:"purpose,omitempty"`
	SearchQuery    string   `json:"searchQuery,omitempty"`
	CommandDomain  string   `json:"commandDomain,omitempty"`
	CommandDetails string   `json:"commandDetails,omitempty"`
}

// ExecutionPlan is an ordered list of steps. A well-formed plan always ends
// with a respond step.
type ExecutionPlan struct {
	Steps []PlanStep `json:"steps"`
}

// FallbackPlan is the single-step plan used when planning fails.
func FallbackPlan() *ExecutionPlan {
	return &ExecutionPlan{Steps: []PlanStep{{Type: StepTypeRespond, Purpose: "direct"}}}
}

// EnsureRespond appends a respond step if the plan is empty or does not
// already end with one.
func (p *ExecutionPlan) EnsureRespond() {
	if n := len(p.Steps); n == 0 || p.Steps[n-1].Type != StepTypeRespond {
		p.Steps = append(p.Steps, PlanStep{Type: StepTypeRespond, Purpose: "final response"})
	}
}

func (p *ExecutionPlan) HasStep(i int) bool {
	return p != nil && i >= 0 && i < len(p.Steps)
}

func (p *ExecutionPlan) Step(i int) PlanStep {
	return p.Steps[i]
}
