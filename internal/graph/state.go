// Package graph drives a turn through planner, executor and specialist
// nodes over a shared state value. Nodes mutate the state they are
// handed and name the next node; the graph owns the edges and the
// transition caps.
package graph

import (
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/toolrpc"
)

// MaxReplans caps how often a turn may discard its plan and start over.
const MaxReplans = 3

// ToolOutput is the captured outcome of one executed plan step, fed to
// the responder so the model can use or repair it.
type ToolOutput struct {
	Step    models.StepType `json:"step"`
	Purpose string          `json:"purpose,omitempty"`
	Query   string          `json:"query,omitempty"`
	Content string          `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

// State is the shared value threaded through the graph for one turn.
type State struct {
	ConversationID string
	GenerationID   string
	UserMessageID  string
	MessageID      string

	Query         string
	SystemMessage string

	Plan             *models.ExecutionPlan
	CurrentStepIndex int
	ReplannedCount   int

	// Parameters copied by the executor for the step being run.
	ToolParam      string
	CommandDomain  string
	CommandDetails string

	ToolOutputs []ToolOutput

	// Consecutive failure counters per specialist; two in a row on the
	// same step type degrades straight to the responder.
	SearchFailures  int
	CommandFailures int

	RequestReplan bool
	ReplanReason  string

	Response  string
	Thinking  string
	Route     string
	ToolsUsed []string
}

func (s *State) meta() toolrpc.CallMeta {
	return toolrpc.CallMeta{
		ConversationID: s.ConversationID,
		GenerationID:   s.GenerationID,
		MessageID:      s.MessageID,
	}
}

func (s *State) addToolUsed(name string) {
	for _, used := range s.ToolsUsed {
		if used == name {
			return
		}
	}
	s.ToolsUsed = append(s.ToolsUsed, name)
}

func (s *State) currentStep() (models.PlanStep, bool) {
	if s.Plan == nil || !s.Plan.HasStep(s.CurrentStepIndex) {
		return models.PlanStep{}, false
	}
	return s.Plan.Step(s.CurrentStepIndex), true
}
