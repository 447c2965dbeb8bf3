package models

import (
	"time"
)

// StatusInfo is the latest progress indicator for a streaming message, kept
// so reconnecting clients can restore their UI state.
type StatusInfo struct {
	Type        string `json:"type"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// MessageGenerationState is the authoritative replay source for one
// streaming assistant turn, stored at message:generating:<messageId>.
type MessageGenerationState struct {
	ConversationID string           `json:"conversationId"`
	MessageID      string           `json:"messageId"`
	Status         GenerationStatus `json:"status"`
	Content        string           `json:"content"`
	Thinking       string           `json:"thinking"`
	ToolEvents     []ToolEvent      `json:"toolEvents,omitempty"`
	CurrentStatus  *StatusInfo      `json:"currentStatus,omitempty"`
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	Error          string           `json:"error,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

func NewMessageGenerationState(conversationID, messageID string) *MessageGenerationState {
	return &MessageGenerationState{
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         GenerationStatusGenerating,
		StartedAt:      time.Now().UTC(),
	}
}

func (s *MessageGenerationState) IsTerminal() bool {
	return s.Status == GenerationStatusCompleted || s.Status == GenerationStatusError
}
