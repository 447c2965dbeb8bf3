package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

// GetTrailingSummary returns the trailing summary, or "" when none exists.
func (m *Manager) GetTrailingSummary(ctx context.Context, conversationID string) (string, error) {
	v, err := m.bus.Get(ctx, trailingSummaryKey(conversationID))
	if errors.Is(err, ports.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetTrailingSummary stores the trailing summary and clears the staged
// summarisation request.
func (m *Manager) SetTrailingSummary(ctx context.Context, conversationID, summary string) error {
	if err := m.bus.Set(ctx, trailingSummaryKey(conversationID), summary, 0); err != nil {
		return err
	}
	meta, _ := m.GetMetadata(ctx, conversationID)
	meta.NeedsTrailingSummaryGeneration = false
	meta.ContentToSummarize = ""
	return m.setMetadata(ctx, conversationID, meta)
}

// GetExecutiveSummary returns the executive summary, or "" when none exists.
func (m *Manager) GetExecutiveSummary(ctx context.Context, conversationID string) (string, error) {
	v, err := m.bus.Get(ctx, executiveSummaryKey(conversationID))
	if errors.Is(err, ports.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetExecutiveSummary stores the executive summary.
func (m *Manager) SetExecutiveSummary(ctx context.Context, conversationID, summary string) error {
	return m.bus.Set(ctx, executiveSummaryKey(conversationID), summary, 0)
}

// TrimAndSummarize trims the cache back under the token budget once the
// total exceeds budget+cushion. The trimmed prefix, together with any
// previous trailing summary, is staged in the metadata for the background
// summariser. Returns true when a trim happened.
func (m *Manager) TrimAndSummarize(ctx context.Context, conversationID string) (bool, error) {
	msgs, err := m.GetMessages(ctx, conversationID)
	if err != nil {
		return false, err
	}

	costs := make([]int, len(msgs))
	total := 0
	for i, msg := range msgs {
		costs[i] = m.MessageTokens(msg)
		total += costs[i]
	}
	if total <= m.maxContextTokens+m.summaryCushionTokens {
		return false, nil
	}

	// Scan backwards: the split index is the first message kept.
	kept := 0
	split := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if kept+costs[i] > m.maxContextTokens {
			break
		}
		kept += costs[i]
		split = i
	}
	trimmed := msgs[:split]
	if len(trimmed) == 0 {
		return false, nil
	}

	// Replace the cache with the kept suffix.
	key := messagesKey(conversationID)
	if err := m.bus.LTrim(ctx, key, int64(split), -1); err != nil {
		return false, fmt.Errorf("trim cache: %w", err)
	}

	previous, _ := m.GetTrailingSummary(ctx, conversationID)
	var b strings.Builder
	if previous != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	for _, msg := range trimmed {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	meta, _ := m.GetMetadata(ctx, conversationID)
	meta.TotalTokens = kept
	meta.NeedsTrailingSummaryGeneration = true
	meta.ContentToSummarize = b.String()
	if err := m.setMetadata(ctx, conversationID, meta); err != nil {
		return false, fmt.Errorf("stage summary content: %w", err)
	}

	if m.logger != nil {
		m.logger.Entry(ctx, models.LogLevelInfo, models.LogCategoryMemory,
			fmt.Sprintf("Trimmed %d messages from cache (%d tokens kept)", len(trimmed), kept),
			"", conversationID, nil)
	}
	return true, nil
}
