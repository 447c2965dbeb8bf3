// Package background runs the maintenance work that follows an
// assistant reply: summarisation, title generation and the node
// heartbeat. Everything is fire-and-forget; failures only log.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
)

const (
	titleWordCap            = 5
	titleSourceMessageLimit = 6
	executiveSummaryMinimum = 3 // assistant replies before an executive summary is worth keeping
)

// Tasks bundles the post-reply maintenance jobs.
type Tasks struct {
	mem    *memory.Manager
	llm    ports.LLMService
	logger *logs.Logger
	slog   *slog.Logger
	model  string
}

func NewTasks(mem *memory.Manager, llm ports.LLMService, logger *logs.Logger, slogger *slog.Logger, model string) *Tasks {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Tasks{mem: mem, llm: llm, logger: logger, slog: slogger, model: model}
}

// RunPostReply runs every maintenance job for a finished assistant
// turn. Intended to be spawned on its own goroutine; each job fails
// independently.
func (t *Tasks) RunPostReply(ctx context.Context, conversationID, generationID string) {
	if err := t.TrailingSummarize(ctx, conversationID, generationID); err != nil {
		t.slog.Warn("background: trailing summary failed", "conversation", conversationID, "error", err)
	}
	if err := t.ExecutiveSummarize(ctx, conversationID, generationID); err != nil {
		t.slog.Warn("background: executive summary failed", "conversation", conversationID, "error", err)
	}
	if err := t.MaybeGenerateTitle(ctx, conversationID, generationID); err != nil {
		t.slog.Warn("background: title generation failed", "conversation", conversationID, "error", err)
	}
}

// TrailingSummarize runs the trim protocol and, when content got
// staged, condenses it into the new trailing summary.
func (t *Tasks) TrailingSummarize(ctx context.Context, conversationID, generationID string) error {
	if _, err := t.mem.TrimAndSummarize(ctx, conversationID); err != nil {
		return fmt.Errorf("trim: %w", err)
	}

	meta, err := t.mem.GetMetadata(ctx, conversationID)
	if err != nil {
		return err
	}
	if !meta.NeedsTrailingSummaryGeneration || meta.ContentToSummarize == "" {
		return nil
	}

	resp, err := t.llm.Chat(ctx, []ports.LLMMessage{
		{Role: "system", Content: "Condense the following conversation excerpt into a short summary that preserves facts, decisions and open threads. Reply with the summary only."},
		{Role: "user", Content: meta.ContentToSummarize},
	}, &ports.LLMOptions{Model: t.model, Temperature: 0.2})
	if err != nil {
		return fmt.Errorf("summarise: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}

	if err := t.mem.SetTrailingSummary(ctx, conversationID, summary); err != nil {
		return err
	}
	t.log(ctx, models.LogCategoryMemory, "Trailing summary updated", generationID, conversationID)
	return nil
}

// ExecutiveSummarize refreshes the whole-conversation overview once the
// conversation has enough assistant replies to be worth summarising.
func (t *Tasks) ExecutiveSummarize(ctx context.Context, conversationID, generationID string) error {
	messages, err := t.mem.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	assistantReplies := 0
	for _, msg := range messages {
		if msg.IsFromAssistant() {
			assistantReplies++
		}
	}
	if assistantReplies < executiveSummaryMinimum {
		return nil
	}

	resp, err := t.llm.Chat(ctx, []ports.LLMMessage{
		{Role: "system", Content: "Write an executive summary of the conversation below in at most 400 words: what the user wants, what has been established, and what remains open. Reply with the summary only."},
		{Role: "user", Content: renderMessages(messages)},
	}, &ports.LLMOptions{Model: t.model, Temperature: 0.2})
	if err != nil {
		return fmt.Errorf("summarise: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}

	if err := t.mem.SetExecutiveSummary(ctx, conversationID, summary); err != nil {
		return err
	}
	t.log(ctx, models.LogCategoryMemory, "Executive summary updated", generationID, conversationID)
	return nil
}

// MaybeGenerateTitle names the conversation after its 2nd and 6th
// message. User-chosen titles are never overwritten.
func (t *Tasks) MaybeGenerateTitle(ctx context.Context, conversationID, generationID string) error {
	meta, err := t.mem.GetMetadata(ctx, conversationID)
	if err != nil {
		return err
	}
	if meta.TitleSetByUser {
		return nil
	}
	if meta.MessageCount != 2 && meta.MessageCount != 6 {
		return nil
	}

	messages, err := t.mem.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(messages) > titleSourceMessageLimit {
		messages = messages[:titleSourceMessageLimit]
	}

	resp, err := t.llm.Chat(ctx, []ports.LLMMessage{
		{Role: "system", Content: "Give this conversation a title of at most five words. Reply with the title only, no quotes or punctuation."},
		{Role: "user", Content: renderMessages(messages)},
	}, &ports.LLMOptions{Model: t.model, Temperature: 0.3, MaxTokens: 30})
	if err != nil {
		return fmt.Errorf("title llm: %w", err)
	}
	title := capWords(strings.Trim(strings.TrimSpace(resp.Content), `"'`), titleWordCap)
	if title == "" {
		return fmt.Errorf("empty title")
	}

	if err := t.mem.SetTitle(ctx, conversationID, title, false); err != nil {
		return err
	}
	t.log(ctx, models.LogCategoryMemory, fmt.Sprintf("Conversation titled %q", title), generationID, conversationID)
	return nil
}

func (t *Tasks) log(ctx context.Context, category models.LogCategory, message, generationID, conversationID string) {
	if t.logger != nil {
		t.logger.Info(ctx, category, message, generationID, conversationID)
	}
}

func renderMessages(messages []*models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

func capWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
