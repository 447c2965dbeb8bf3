package models

import (
	"time"
)

// Stream event types published on message:stream:<messageId>.
const (
	StreamEventChunk            = "chunk"
	StreamEventToolEvent        = "tool_event"
	StreamEventStatus           = "status"
	StreamEventToolStatus       = "tool_status"
	StreamEventComplete         = "complete"
	StreamEventError            = "error"
	StreamEventThinkingComplete = "thinkingComplete"
	StreamEventInit             = "init"
)

// StreamEvent is the wire shape for all per-message streaming events. Fields
// are populated according to Type.
type StreamEvent struct {
	Type            string         `json:"type"`
	Content         string         `json:"content,omitempty"`
	Thinking        bool           `json:"thinking,omitempty"`
	Event           *ToolEvent     `json:"event,omitempty"`
	Action          string         `json:"action,omitempty"`
	Description     string         `json:"description,omitempty"`
	Status          string         `json:"status,omitempty"`
	ExistingContent string         `json:"existingContent,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Tool lifecycle event types published on tool:event:<messageId>. For any
// toolId the sequence is tool_start (tool_progress)* (tool_complete|tool_error).
const (
	ToolEventStart    = "tool_start"
	ToolEventProgress = "tool_progress"
	ToolEventComplete = "tool_complete"
	ToolEventError    = "tool_error"
)

type ToolEvent struct {
	Type      string         `json:"type"`
	ToolID    string         `json:"toolId"`
	ToolType  string         `json:"toolType"`
	ToolName  string         `json:"toolName"`
	Timestamp time.Time      `json:"timestamp"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
