package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
	"github.com/redworks/red/internal/toolregistry"
)

// Node names double as routing targets returned by each node.
const (
	nodePlanner   = "planner"
	nodeExecutor  = "executor"
	nodeSearch    = "search"
	nodeCommand   = "command"
	nodeResponder = "responder"
	nodeEnd       = "end"
)

// maxTransitions is a hard stop against routing bugs; legitimate turns
// stay well under it even at the replan cap.
const maxTransitions = 64

// Graph wires the turn nodes to their collaborators.
type Graph struct {
	llm      ports.LLMService
	registry *toolregistry.Registry
	mem      *memory.Manager
	pipeline *stream.Pipeline
	logger   *logs.Logger
	slog     *slog.Logger

	model           string
	optimizeQueries bool
}

// Options tunes graph behaviour.
type Options struct {
	Model           string
	OptimizeQueries bool
}

func New(llm ports.LLMService, registry *toolregistry.Registry, mem *memory.Manager, pipeline *stream.Pipeline, logger *logs.Logger, slogger *slog.Logger, opts Options) *Graph {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Graph{
		llm:             llm,
		registry:        registry,
		mem:             mem,
		pipeline:        pipeline,
		logger:          logger,
		slog:            slogger,
		model:           opts.Model,
		optimizeQueries: opts.OptimizeQueries,
	}
}

// Run drives the state from planning to the final response. Tool
// failures are folded into the state and never abort the run; only a
// responder that produces nothing is fatal.
func (g *Graph) Run(ctx context.Context, s *State) error {
	node := nodePlanner
	for i := 0; i < maxTransitions; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next string
		var err error
		switch node {
		case nodePlanner:
			next = g.runPlanner(ctx, s)
		case nodeExecutor:
			next = g.runExecutor(ctx, s)
		case nodeSearch:
			next = g.runSearch(ctx, s)
		case nodeCommand:
			next = g.runCommand(ctx, s)
		case nodeResponder:
			next, err = g.runResponder(ctx, s)
			if err != nil {
				return err
			}
		case nodeEnd:
			return nil
		default:
			return fmt.Errorf("unknown graph node: %s", node)
		}
		node = next
	}
	return fmt.Errorf("graph exceeded %d transitions", maxTransitions)
}

// nextAfterStep is the shared return edge from search and command:
// advance past the finished step and hand back to the executor. The
// plan always ends with a respond step, so the executor terminates the
// loop by routing there.
func (s *State) nextAfterStep() string {
	s.CurrentStepIndex++
	if _, ok := s.currentStep(); ok {
		return nodeExecutor
	}
	return nodeResponder
}
