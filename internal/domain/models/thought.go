package models

import (
	"time"
)

type ThoughtSource string

const (
	ThoughtSourceChat                    ThoughtSource = "chat"
	ThoughtSourceRouter                  ThoughtSource = "router"
	ThoughtSourceToolPicker              ThoughtSource = "toolPicker"
	ThoughtSourceSearchQueryOptimization ThoughtSource = "search-query-optimization"
	ThoughtSourceSearchResultExtraction  ThoughtSource = "search-result-extraction"
)

// Thought is reasoning text extracted from <think> segments, stored
// disjointly from the message content it was produced alongside.
type Thought struct {
	ID             string         `json:"thoughtId" bson:"thoughtId"`
	MessageID      string         `json:"messageId,omitempty" bson:"messageId,omitempty"`
	ConversationID string         `json:"conversationId" bson:"conversationId"`
	GenerationID   string         `json:"generationId" bson:"generationId"`
	Source         ThoughtSource  `json:"source" bson:"source"`
	Content        string         `json:"content" bson:"content"`
	Timestamp      time.Time      `json:"timestamp" bson:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

func NewThought(id, conversationID, generationID string, source ThoughtSource, content string) *Thought {
	return &Thought{
		ID:             id,
		ConversationID: conversationID,
		GenerationID:   generationID,
		Source:         source,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}
