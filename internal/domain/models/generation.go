package models

import (
	"time"
)

type GenerationStatus string

const (
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusError      GenerationStatus = "error"
)

// Generation records one assistant turn from startGeneration to its terminal
// state. At most one non-stale generating record exists per conversation.
type Generation struct {
	ID             string           `json:"generationId" bson:"generationId"`
	ConversationID string           `json:"conversationId" bson:"conversationId"`
	Status         GenerationStatus `json:"status" bson:"status"`
	StartedAt      time.Time        `json:"startedAt" bson:"startedAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	Route          string           `json:"route,omitempty" bson:"route,omitempty"`
	ToolsUsed      []string         `json:"toolsUsed,omitempty" bson:"toolsUsed,omitempty"`
	Model          string           `json:"model,omitempty" bson:"model,omitempty"`
	Tokens         int              `json:"tokens,omitempty" bson:"tokens,omitempty"`
	Error          string           `json:"error,omitempty" bson:"error,omitempty"`
	Response       string           `json:"response,omitempty" bson:"response,omitempty"`
	Thinking       string           `json:"thinking,omitempty" bson:"thinking,omitempty"`
}

func NewGeneration(id, conversationID string) *Generation {
	return &Generation{
		ID:             id,
		ConversationID: conversationID,
		Status:         GenerationStatusGenerating,
		StartedAt:      time.Now().UTC(),
	}
}

func (g *Generation) IsGenerating() bool {
	return g.Status == GenerationStatusGenerating
}

func (g *Generation) IsTerminal() bool {
	return g.Status == GenerationStatusCompleted || g.Status == GenerationStatusError
}

// Age reports how long ago the generation started.
func (g *Generation) Age() time.Duration {
	return time.Since(g.StartedAt)
}

// IsStale reports whether a generating record has outlived the reclaim
// threshold and may be force-failed by a new startGeneration.
func (g *Generation) IsStale(threshold time.Duration) bool {
	return g.IsGenerating() && g.Age() > threshold
}
