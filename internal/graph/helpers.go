package graph

import (
	"context"
	"fmt"

	"github.com/redworks/red/internal/domain/models"
)

// setStatus surfaces node progress to stream subscribers; failures only
// degrade the progress indicator.
func (g *Graph) setStatus(ctx context.Context, s *State, action, description string) {
	if err := g.pipeline.SetStatus(ctx, s.MessageID, action, description); err != nil {
		g.slog.Debug("graph: status update failed", "message", s.MessageID, "action", action, "error", err)
	}
}

func (g *Graph) logf(ctx context.Context, level models.LogLevel, category models.LogCategory, s *State, format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Entry(ctx, level, category, fmt.Sprintf(format, args...), s.GenerationID, s.ConversationID, nil)
}
