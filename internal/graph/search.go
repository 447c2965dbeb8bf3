package graph

import (
	"context"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

// runSearch executes a search step through the tool registry. Failures
// are folded into the state; a second consecutive failure degrades
// straight to the responder instead of burning the rest of the plan.
func (g *Graph) runSearch(ctx context.Context, s *State) string {
	query := s.ToolParam
	if g.optimizeQueries {
		query = g.optimizeQuery(ctx, s, query)
	}
	g.setStatus(ctx, s, "searching", query)

	step, _ := s.currentStep()
	result, toolErr, err := g.registry.CallTool(ctx, "web_search", map[string]any{"query": query}, s.meta())
	if err != nil || toolErr {
		detail := result
		if err != nil {
			detail = err.Error()
		}
		s.SearchFailures++
		s.ToolOutputs = append(s.ToolOutputs, ToolOutput{
			Step:    models.StepTypeSearch,
			Purpose: step.Purpose,
			Query:   query,
			Content: detail,
			IsError: true,
		})
		g.logf(ctx, models.LogLevelError, models.LogCategorySearch, s, "Search failed: %s", detail)
		if s.SearchFailures >= 2 {
			g.logf(ctx, models.LogLevelWarn, models.LogCategorySearch, s,
				"Two consecutive search failures, responding with what we have")
			return nodeResponder
		}
		return s.nextAfterStep()
	}

	s.SearchFailures = 0
	s.addToolUsed("web_search")
	s.ToolOutputs = append(s.ToolOutputs, ToolOutput{
		Step:    models.StepTypeSearch,
		Purpose: step.Purpose,
		Query:   query,
		Content: result,
	})
	g.logf(ctx, models.LogLevelSuccess, models.LogCategorySearch, s,
		"Search %q returned %d characters", query, len(result))
	return s.nextAfterStep()
}

// optimizeQuery asks the LLM for a sharper web query; the original
// query survives any failure.
func (g *Graph) optimizeQuery(ctx context.Context, s *State, query string) string {
	resp, err := g.llm.Chat(ctx, []ports.LLMMessage{
		{Role: "system", Content: "Rewrite the user's request as a concise web search query. Reply with the query only, no quotes."},
		{Role: "user", Content: query},
	}, &ports.LLMOptions{Model: g.model, Temperature: 0.1, MaxTokens: 60})
	if err != nil {
		g.logf(ctx, models.LogLevelWarn, models.LogCategorySearch, s,
			"Query optimization failed, keeping original: %v", err)
		return query
	}
	optimized := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if optimized == "" {
		return query
	}
	return optimized
}
