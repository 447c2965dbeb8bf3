package models

import (
	"time"
)

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarn    LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// LogCategory names the subsystem a log entry originated from.
type LogCategory string

const (
	LogCategoryRouter     LogCategory = "router"
	LogCategoryTool       LogCategory = "tool"
	LogCategoryChat       LogCategory = "chat"
	LogCategoryThought    LogCategory = "thought"
	LogCategoryMemory     LogCategory = "memory"
	LogCategorySystem     LogCategory = "system"
	LogCategoryGeneration LogCategory = "generation"
	LogCategoryMCP        LogCategory = "mcp"
	LogCategoryContext    LogCategory = "context"
	LogCategoryExecutor   LogCategory = "executor"
	LogCategoryPlanner    LogCategory = "planner"
	LogCategoryResponder  LogCategory = "responder"
	LogCategorySearch     LogCategory = "search"
	LogCategoryScrape     LogCategory = "scrape"
	LogCategoryCommand    LogCategory = "command"
	LogCategoryFastpath   LogCategory = "fastpath"
)

// LogEntry is a product-level log line. Messages may embed inline colour
// tags such as <red>…</red> or <dim>…</dim>; they are data, not formatting,
// and renderers decide whether to honour or strip them.
type LogEntry struct {
	ID             string         `json:"id" bson:"id"`
	Timestamp      time.Time      `json:"timestamp" bson:"timestamp"`
	Level          LogLevel       `json:"level" bson:"level"`
	Category       LogCategory    `json:"category" bson:"category"`
	Message        string         `json:"message" bson:"message"`
	GenerationID   string         `json:"generationId,omitempty" bson:"generationId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty" bson:"conversationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
