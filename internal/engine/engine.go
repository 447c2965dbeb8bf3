// Package engine orchestrates one full assistant turn: guard the
// conversation, persist the user message, drive the planner graph, and
// settle the generation record when the turn ends.
package engine

import (
	"log/slog"

	"github.com/redworks/red/internal/background"
	"github.com/redworks/red/internal/generation"
	"github.com/redworks/red/internal/graph"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
	"github.com/redworks/red/internal/toolregistry"
)

const defaultSystemMessage = "You are Red, a capable assistant. Answer directly and honestly; when tool results are provided, ground your answer in them."

// Engine ties the per-turn collaborators together. One Engine serves
// all conversations; per-turn state lives in the graph State and the
// stream pipeline.
type Engine struct {
	registry    *toolregistry.Registry
	generations *generation.Registry
	mem         *memory.Manager
	store       ports.DurableStore
	pipeline    *stream.Pipeline
	graph       *graph.Graph
	tasks       *background.Tasks
	logger      *logs.Logger
	slog        *slog.Logger
	ids         ports.IDGenerator

	model         string
	systemMessage string
}

type Options struct {
	Model         string
	SystemMessage string
}

func New(
	registry *toolregistry.Registry,
	generations *generation.Registry,
	mem *memory.Manager,
	store ports.DurableStore,
	pipeline *stream.Pipeline,
	g *graph.Graph,
	tasks *background.Tasks,
	logger *logs.Logger,
	slogger *slog.Logger,
	ids ports.IDGenerator,
	opts Options,
) *Engine {
	if slogger == nil {
		slogger = slog.Default()
	}
	if opts.SystemMessage == "" {
		opts.SystemMessage = defaultSystemMessage
	}
	return &Engine{
		registry:      registry,
		generations:   generations,
		mem:           mem,
		store:         store,
		pipeline:      pipeline,
		graph:         g,
		tasks:         tasks,
		logger:        logger,
		slog:          slogger,
		ids:           ids,
		model:         opts.Model,
		systemMessage: opts.SystemMessage,
	}
}

// Request is one incoming user turn.
type Request struct {
	Query string
	// ConversationID pins the turn to an existing conversation. Empty
	// means derive one from the query text.
	ConversationID string
	// SystemMessage overrides the engine default for this turn only.
	SystemMessage string
}

// Turn identifies an accepted, in-flight assistant turn.
type Turn struct {
	ConversationID string
	GenerationID   string
	UserMessageID  string
	MessageID      string
}

// Result is a finished turn.
type Result struct {
	Turn
	Response  string
	Thinking  string
	ToolsUsed []string
}
