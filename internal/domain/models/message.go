package models

import (
	"time"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single conversation turn. Within a conversation, messages are
// totally ordered by Timestamp.
type Message struct {
	ID             string          `json:"messageId" bson:"messageId"`
	ConversationID string          `json:"conversationId" bson:"conversationId"`
	Role           MessageRole     `json:"role" bson:"role"`
	Content        string          `json:"content" bson:"content"`
	Timestamp      time.Time       `json:"timestamp" bson:"timestamp"`
	GenerationID   string          `json:"generationId,omitempty" bson:"generationId,omitempty"`
	Thinking       string          `json:"thinking,omitempty" bson:"thinking,omitempty"`
	ToolExecutions []ToolExecution `json:"toolExecutions,omitempty" bson:"toolExecutions,omitempty"`
}

func NewMessage(id, conversationID string, role MessageRole, content string) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}

func NewUserMessage(id, conversationID, content string) *Message {
	return NewMessage(id, conversationID, MessageRoleUser, content)
}

func NewAssistantMessage(id, conversationID, content string) *Message {
	return NewMessage(id, conversationID, MessageRoleAssistant, content)
}

func NewSystemMessage(id, conversationID, content string) *Message {
	return NewMessage(id, conversationID, MessageRoleSystem, content)
}

func (m *Message) IsFromUser() bool {
	return m.Role == MessageRoleUser
}

func (m *Message) IsFromAssistant() bool {
	return m.Role == MessageRoleAssistant
}

// ToolExecution is one finished tool call folded into an assistant message,
// preserving the order in which tools ran during the turn.
type ToolExecution struct {
	ToolID     string         `json:"toolId" bson:"toolId"`
	ToolName   string         `json:"toolName" bson:"toolName"`
	Status     string         `json:"status" bson:"status"`
	Result     string         `json:"result,omitempty" bson:"result,omitempty"`
	Error      string         `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty" bson:"durationMs,omitempty"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
