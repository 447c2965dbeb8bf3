package graph

import (
	"context"

	"github.com/redworks/red/internal/domain/models"
)

// runExecutor routes the current plan step to its specialist, copying
// the step parameters into the state first.
func (g *Graph) runExecutor(ctx context.Context, s *State) string {
	step, ok := s.currentStep()
	if !ok {
		// A consumed or empty plan means the respond step already ran
		// or the plan was malformed; either way the responder closes
		// the turn.
		return nodeResponder
	}

	switch step.Type {
	case models.StepTypeSearch:
		s.ToolParam = step.SearchQuery
		if s.ToolParam == "" {
			s.ToolParam = s.Query
		}
		g.logf(ctx, models.LogLevelInfo, models.LogCategoryExecutor, s,
			"Step %d/%d: search %q", s.CurrentStepIndex+1, len(s.Plan.Steps), s.ToolParam)
		return nodeSearch
	case models.StepTypeCommand:
		s.CommandDomain = step.CommandDomain
		s.CommandDetails = step.CommandDetails
		g.logf(ctx, models.LogLevelInfo, models.LogCategoryExecutor, s,
			"Step %d/%d: command %q", s.CurrentStepIndex+1, len(s.Plan.Steps), s.CommandDetails)
		return nodeCommand
	default:
		g.logf(ctx, models.LogLevelInfo, models.LogCategoryExecutor, s,
			"Step %d/%d: respond", s.CurrentStepIndex+1, len(s.Plan.Steps))
		return nodeResponder
	}
}
