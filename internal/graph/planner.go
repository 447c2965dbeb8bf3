package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

const plannerSystemPrompt = `You are the planning component of an assistant. Given the user's request, the conversation so far and the available tools, produce an execution plan as strict JSON with no commentary:

{"steps": [
  {"type": "search", "purpose": "...", "searchQuery": "..."},
  {"type": "command", "purpose": "...", "domain": "system", "commandDetails": "..."},
  {"type": "respond", "purpose": "..."}
]}

Rules:
- Use "search" only when the request needs current or external information.
- Use "command" only when the request needs a system command; put the exact command line in commandDetails.
- The last step must always be {"type": "respond", ...}.
- For requests answerable from the conversation alone, return a single respond step.`

// runPlanner produces the execution plan for the turn. Any failure in
// the LLM call or the JSON it returns degrades to the single-step
// fallback plan rather than failing the turn.
func (g *Graph) runPlanner(ctx context.Context, s *State) string {
	if s.Plan != nil {
		s.ReplannedCount++
	}
	g.setStatus(ctx, s, "planning", "Deciding how to respond")

	plan, err := g.plan(ctx, s)
	if err != nil {
		g.logf(ctx, models.LogLevelWarn, models.LogCategoryPlanner, s,
			"Planning failed, using fallback plan: %v", err)
		plan = models.FallbackPlan()
	}
	plan.EnsureRespond()

	s.Plan = plan
	s.CurrentStepIndex = 0
	s.RequestReplan = false

	g.logf(ctx, models.LogLevelInfo, models.LogCategoryPlanner, s,
		"Plan ready: %s", describePlan(plan))
	return nodeExecutor
}

func (g *Graph) plan(ctx context.Context, s *State) (*models.ExecutionPlan, error) {
	messages := []ports.LLMMessage{
		{Role: "system", Content: plannerSystemPrompt + "\n\nAvailable tools:\n" + g.toolCatalogue()},
	}
	history, err := g.mem.GetContextForConversation(ctx, s.ConversationID)
	if err == nil {
		for _, msg := range history {
			messages = append(messages, ports.LLMMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	prompt := s.Query
	if s.ReplanReason != "" {
		prompt = fmt.Sprintf("%s\n\nThe previous plan was insufficient: %s\nPlan again with this in mind.", s.Query, s.ReplanReason)
	}
	messages = append(messages, ports.LLMMessage{Role: "user", Content: prompt})

	resp, err := g.llm.Chat(ctx, messages, &ports.LLMOptions{Model: g.model, Temperature: 0.1})
	if err != nil {
		return nil, fmt.Errorf("planner llm: %w", err)
	}
	return parsePlan(resp.Content)
}

func (g *Graph) toolCatalogue() string {
	tools := g.registry.Tools()
	if len(tools) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
	}
	return b.String()
}

// parsePlan extracts the plan object from an LLM reply that may wrap it
// in prose or code fences.
func parsePlan(raw string) (*models.ExecutionPlan, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in planner reply")
	}

	var wire struct {
		Steps []struct {
			Type           string `json:"type"`
			Purpose        string `json:"purpose"`
			SearchQuery    string `json:"searchQuery"`
			Domain         string `json:"domain"`
			CommandDetails string `json:"commandDetails"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(wire.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	plan := &models.ExecutionPlan{}
	for _, step := range wire.Steps {
		switch models.StepType(step.Type) {
		case models.StepTypeSearch:
			plan.Steps = append(plan.Steps, models.PlanStep{
				Type:        models.StepTypeSearch,
				Purpose:     step.Purpose,
				SearchQuery: step.SearchQuery,
			})
		case models.StepTypeCommand:
			plan.Steps = append(plan.Steps, models.PlanStep{
				Type:           models.StepTypeCommand,
				Purpose:        step.Purpose,
				CommandDomain:  step.Domain,
				CommandDetails: step.CommandDetails,
			})
		case models.StepTypeRespond:
			plan.Steps = append(plan.Steps, models.PlanStep{
				Type:    models.StepTypeRespond,
				Purpose: step.Purpose,
			})
		default:
			return nil, fmt.Errorf("unknown step type %q", step.Type)
		}
	}
	return plan, nil
}

// extractJSONObject returns the first balanced {...} in the text,
// skipping braces inside JSON strings.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func describePlan(plan *models.ExecutionPlan) string {
	parts := make([]string, len(plan.Steps))
	for i, step := range plan.Steps {
		parts[i] = string(step.Type)
	}
	return strings.Join(parts, " -> ")
}
