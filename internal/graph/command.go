package graph

import (
	"context"

	"github.com/redworks/red/internal/domain/models"
)

// runCommand executes a command step via the system tool server. The
// registry returns captured stdout/stderr/exit as the tool result; a
// transport failure counts toward the consecutive-failure degrade.
func (g *Graph) runCommand(ctx context.Context, s *State) string {
	g.setStatus(ctx, s, "executing", s.CommandDetails)

	step, _ := s.currentStep()
	result, toolErr, err := g.registry.CallTool(ctx, "execute_command", map[string]any{"command": s.CommandDetails}, s.meta())
	if err != nil || toolErr {
		detail := result
		if err != nil {
			detail = err.Error()
		}
		s.CommandFailures++
		s.ToolOutputs = append(s.ToolOutputs, ToolOutput{
			Step:    models.StepTypeCommand,
			Purpose: step.Purpose,
			Query:   s.CommandDetails,
			Content: detail,
			IsError: true,
		})
		g.logf(ctx, models.LogLevelError, models.LogCategoryCommand, s, "Command failed: %s", detail)
		if s.CommandFailures >= 2 {
			g.logf(ctx, models.LogLevelWarn, models.LogCategoryCommand, s,
				"Two consecutive command failures, responding with what we have")
			return nodeResponder
		}
		return s.nextAfterStep()
	}

	s.CommandFailures = 0
	s.addToolUsed("execute_command")
	s.ToolOutputs = append(s.ToolOutputs, ToolOutput{
		Step:    models.StepTypeCommand,
		Purpose: step.Purpose,
		Query:   s.CommandDetails,
		Content: result,
	})
	g.logf(ctx, models.LogLevelSuccess, models.LogCategoryCommand, s,
		"Command %q finished", s.CommandDetails)
	return s.nextAfterStep()
}
