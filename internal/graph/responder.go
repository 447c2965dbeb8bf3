package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
)

// Replan marker: when the responder model decides the gathered tool
// results cannot answer the request, it replies with exactly this tag
// and a reason instead of an answer. The detector keeps the marker out
// of the visible stream.
const (
	replanOpen  = "<replan>"
	replanClose = "</replan>"
)

const replanInstruction = "\n\nIf the tool results above are insufficient to answer and another round of tool use would help, reply with exactly <replan>what is missing</replan> and nothing else."

// runResponder assembles the final prompt, streams the reply through
// the think transducer into the stream pipeline, and either finishes
// the turn or requests a replan.
func (g *Graph) runResponder(ctx context.Context, s *State) (string, error) {
	g.setStatus(ctx, s, "responding", "Generating response")

	messages := g.assemblePrompt(ctx, s)
	chunks, err := g.llm.ChatStream(ctx, messages, &ports.LLMOptions{Model: g.model})
	if err != nil {
		return "", fmt.Errorf("responder llm: %w", err)
	}

	var content, thinking strings.Builder
	detector := &replanDetector{
		emit: func(text string) {
			content.WriteString(text)
			if err := g.pipeline.AppendContent(ctx, s.MessageID, text); err != nil {
				g.slog.Warn("graph: content append failed", "message", s.MessageID, "error", err)
			}
		},
	}
	parser := stream.NewThinkParser(
		detector.feed,
		func(text string) {
			thinking.WriteString(text)
			if err := g.pipeline.AppendThinking(ctx, s.MessageID, text); err != nil {
				g.slog.Warn("graph: thinking append failed", "message", s.MessageID, "error", err)
			}
		},
		func() {
			g.pipeline.ThinkingComplete(ctx, s.MessageID)
		},
	)

	var streamErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			streamErr = chunk.Error
			break
		}
		if chunk.Reasoning != "" {
			thinking.WriteString(chunk.Reasoning)
			if err := g.pipeline.AppendThinking(ctx, s.MessageID, chunk.Reasoning); err != nil {
				g.slog.Warn("graph: thinking append failed", "message", s.MessageID, "error", err)
			}
		}
		if chunk.Content != "" {
			parser.Feed(chunk.Content)
		}
		if chunk.Done {
			break
		}
	}
	parser.Flush()
	detector.finish()

	if streamErr != nil && content.Len() == 0 {
		return "", fmt.Errorf("responder stream: %w", streamErr)
	}
	if streamErr != nil {
		g.logf(ctx, models.LogLevelWarn, models.LogCategoryResponder, s,
			"Stream ended early after %d characters: %v", content.Len(), streamErr)
	}

	if detector.replanRequested && s.ReplannedCount < MaxReplans {
		s.RequestReplan = true
		s.ReplanReason = detector.reason.String()
		g.logf(ctx, models.LogLevelInfo, models.LogCategoryResponder, s,
			"Replan requested (%d/%d): %s", s.ReplannedCount+1, MaxReplans, s.ReplanReason)
		return nodePlanner, nil
	}
	if detector.replanRequested {
		// Cap reached; the marker-only reply is all we have, surface it
		// as a plain answer shortfall rather than looping.
		fallback := "I could not gather enough information to answer that fully."
		detector.emitHeld(fallback)
		g.logf(ctx, models.LogLevelWarn, models.LogCategoryResponder, s,
			"Replan cap reached, responding degraded")
	}

	s.Response = content.String()
	s.Thinking = thinking.String()
	s.Route = "planner"
	g.logf(ctx, models.LogLevelSuccess, models.LogCategoryResponder, s,
		"Response complete (%d characters)", len(s.Response))
	return nodeEnd, nil
}

// assemblePrompt builds the responder's message list: system prompt,
// summaries as synthetic context, budgeted history, the user query and
// any tool outputs gathered this turn.
func (g *Graph) assemblePrompt(ctx context.Context, s *State) []ports.LLMMessage {
	var messages []ports.LLMMessage
	if s.SystemMessage != "" {
		messages = append(messages, ports.LLMMessage{Role: "system", Content: s.SystemMessage})
	}

	var synthetic []string
	if executive, err := g.mem.GetExecutiveSummary(ctx, s.ConversationID); err == nil && executive != "" {
		synthetic = append(synthetic, "Conversation overview: "+executive)
	}
	if trailing, err := g.mem.GetTrailingSummary(ctx, s.ConversationID); err == nil && trailing != "" {
		synthetic = append(synthetic, "Earlier messages (summarized): "+trailing)
	}
	if len(synthetic) > 0 {
		messages = append(messages, ports.LLMMessage{Role: "system", Content: strings.Join(synthetic, "\n\n")})
	}

	history, err := g.mem.GetContextForConversation(ctx, s.ConversationID)
	if err != nil {
		g.logf(ctx, models.LogLevelWarn, models.LogCategoryResponder, s,
			"Context fetch failed, responding without history: %v", err)
	}
	queryIncluded := false
	for _, msg := range history {
		messages = append(messages, ports.LLMMessage{Role: string(msg.Role), Content: msg.Content})
		if msg.Role == models.MessageRoleUser && msg.Content == s.Query {
			queryIncluded = true
		}
	}
	if !queryIncluded {
		messages = append(messages, ports.LLMMessage{Role: "user", Content: s.Query})
	}

	if len(s.ToolOutputs) > 0 {
		var b strings.Builder
		b.WriteString("Results from tools executed for this request:\n")
		for _, out := range s.ToolOutputs {
			label := string(out.Step)
			if out.Query != "" {
				label += " " + out.Query
			}
			if out.IsError {
				fmt.Fprintf(&b, "\n[%s] FAILED: %s\n", label, out.Content)
			} else {
				fmt.Fprintf(&b, "\n[%s]\n%s\n", label, out.Content)
			}
		}
		suffix := ""
		if s.ReplannedCount < MaxReplans {
			suffix = replanInstruction
		}
		messages = append(messages, ports.LLMMessage{Role: "system", Content: b.String() + suffix})
	}
	return messages
}

// replanDetector sits between the think transducer and the pipeline.
// It holds back output while it is still a prefix of the replan marker;
// everything else passes through untouched.
type replanDetector struct {
	emit func(string)

	held            strings.Builder
	decided         bool
	capturing       bool
	replanRequested bool
	reason          strings.Builder
}

func (d *replanDetector) feed(text string) {
	if d.decided {
		d.emit(text)
		return
	}
	if d.capturing {
		d.reason.WriteString(text)
		return
	}
	d.held.WriteString(text)
	held := d.held.String()
	switch {
	case strings.HasPrefix(held, replanOpen):
		d.capturing = true
		d.replanRequested = true
		d.reason.WriteString(held[len(replanOpen):])
	case strings.HasPrefix(replanOpen, held):
		// Still a possible marker prefix, keep holding.
	default:
		d.decided = true
		d.emit(held)
	}
}

// finish resolves a stream that ended while output was still held.
func (d *replanDetector) finish() {
	if d.capturing {
		reason := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d.reason.String()), replanClose))
		d.reason.Reset()
		d.reason.WriteString(reason)
		return
	}
	if !d.decided && d.held.Len() > 0 {
		d.decided = true
		d.emit(d.held.String())
	}
}

// emitHeld replaces a swallowed marker-only reply with fallback text.
func (d *replanDetector) emitHeld(text string) {
	d.decided = true
	d.emit(text)
}
