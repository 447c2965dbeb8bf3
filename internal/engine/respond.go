package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/generation"
	"github.com/redworks/red/internal/graph"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/toolrpc"
)

// Respond runs a turn to completion and returns the final response.
func (e *Engine) Respond(ctx context.Context, req Request) (*Result, error) {
	req.Query = strings.TrimSpace(req.Query)
	turn, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, turn, req)
}

// RespondStream accepts the turn, then drives it on its own goroutine
// so the caller can attach to the message stream. The returned Turn
// carries the identifiers the caller needs for its metadata frame. The
// turn keeps running if the caller's context is cancelled; a dropped
// SSE client must not kill the generation.
func (e *Engine) RespondStream(ctx context.Context, req Request) (*Turn, error) {
	req.Query = strings.TrimSpace(req.Query)
	turn, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		e.pipeline.WaitStreamReady(detached, turn.MessageID)
		if _, err := e.run(detached, turn, req); err != nil {
			e.slog.Error("engine: streamed turn failed",
				"conversation", turn.ConversationID, "generation", turn.GenerationID, "error", err)
		}
	}()
	return turn, nil
}

// begin validates the request, claims the conversation's generation
// slot, stores the user message and opens the assistant's stream state.
// After begin succeeds the turn is committed: any later failure must
// settle the generation record.
func (e *Engine) begin(ctx context.Context, req Request) (*Turn, error) {
	if req.Query == "" {
		return nil, ports.ErrEmptyContent
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = memory.DeriveConversationID(req.Query)
	}

	generationID, err := e.generations.StartGeneration(ctx, conversationID, "")
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		ConversationID: conversationID,
		GenerationID:   generationID,
		UserMessageID:  e.ids.GenerateMessageID(),
		MessageID:      e.ids.GenerateMessageID(),
	}

	result, toolErr, err := e.registry.CallTool(ctx, "store_message", map[string]any{
		"conversationId": conversationID,
		"role":           string(models.MessageRoleUser),
		"content":        req.Query,
		"messageId":      turn.UserMessageID,
		"generationId":   generationID,
	}, toolrpc.CallMeta{ConversationID: conversationID, GenerationID: generationID})
	if err == nil && toolErr {
		err = errors.New(result)
	}
	if err != nil {
		e.abort(ctx, turn, fmt.Sprintf("Failed to store user message: %v", err))
		return nil, fmt.Errorf("store user message: %w", err)
	}

	if err := e.pipeline.StartMessage(ctx, conversationID, turn.MessageID); err != nil {
		e.abort(ctx, turn, fmt.Sprintf("Failed to open stream state: %v", err))
		return nil, fmt.Errorf("start message: %w", err)
	}
	return turn, nil
}

// run drives the graph and settles the turn. Exactly one of
// CompleteGeneration / FailGeneration happens per accepted turn.
func (e *Engine) run(ctx context.Context, turn *Turn, req Request) (*Result, error) {
	systemMessage := req.SystemMessage
	if systemMessage == "" {
		systemMessage = e.systemMessage
	}
	state := &graph.State{
		ConversationID: turn.ConversationID,
		GenerationID:   turn.GenerationID,
		UserMessageID:  turn.UserMessageID,
		MessageID:      turn.MessageID,
		Query:          req.Query,
		SystemMessage:  systemMessage,
	}

	if err := e.graph.Run(ctx, state); err != nil {
		e.fail(ctx, turn, err.Error())
		return nil, err
	}

	assistant := models.NewAssistantMessage(turn.MessageID, turn.ConversationID, state.Response)
	assistant.GenerationID = turn.GenerationID
	assistant.Thinking = state.Thinking
	assistant.ToolExecutions = e.foldToolExecutions(ctx, turn.MessageID)
	if err := e.mem.AddMessage(ctx, assistant); err != nil {
		e.fail(ctx, turn, fmt.Sprintf("Failed to store assistant message: %v", err))
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	if state.Thinking != "" {
		thought := models.NewThought(e.ids.GenerateThoughtID(), turn.ConversationID, turn.GenerationID,
			models.ThoughtSourceChat, state.Thinking)
		thought.MessageID = turn.MessageID
		if err := e.store.StoreThought(ctx, thought); err != nil {
			e.slog.Warn("engine: thought store failed", "message", turn.MessageID, "error", err)
		}
	}

	if err := e.pipeline.Complete(ctx, turn.MessageID, map[string]any{
		"conversationId": turn.ConversationID,
		"generationId":   turn.GenerationID,
		"messageId":      turn.MessageID,
	}); err != nil {
		e.slog.Warn("engine: stream complete failed", "message", turn.MessageID, "error", err)
	}

	tokens, err := e.mem.TokenCount(ctx, turn.ConversationID)
	if err != nil {
		tokens = 0
	}
	if err := e.generations.CompleteGeneration(ctx, turn.GenerationID, generation.CompleteResult{
		Response:  state.Response,
		Thinking:  state.Thinking,
		Route:     state.Route,
		ToolsUsed: state.ToolsUsed,
		Model:     e.model,
		Tokens:    tokens,
	}); err != nil {
		e.slog.Warn("engine: complete generation failed", "generation", turn.GenerationID, "error", err)
	}

	go e.tasks.RunPostReply(context.WithoutCancel(ctx), turn.ConversationID, turn.GenerationID)

	return &Result{
		Turn:      *turn,
		Response:  state.Response,
		Thinking:  state.Thinking,
		ToolsUsed: state.ToolsUsed,
	}, nil
}

// fail settles a committed turn that died mid-flight: error frame on the
// stream, then the generation record.
func (e *Engine) fail(ctx context.Context, turn *Turn, errMsg string) {
	if err := e.pipeline.Fail(ctx, turn.MessageID, errMsg); err != nil && !errors.Is(err, ports.ErrNoStreamState) {
		e.slog.Warn("engine: stream fail failed", "message", turn.MessageID, "error", err)
	}
	if err := e.generations.FailGeneration(ctx, turn.GenerationID, errMsg); err != nil {
		e.slog.Warn("engine: fail generation failed", "generation", turn.GenerationID, "error", err)
	}
}

// abort settles a turn that never opened stream state.
func (e *Engine) abort(ctx context.Context, turn *Turn, errMsg string) {
	if err := e.generations.FailGeneration(ctx, turn.GenerationID, errMsg); err != nil {
		e.slog.Warn("engine: fail generation failed", "generation", turn.GenerationID, "error", err)
	}
}

// foldToolExecutions collapses the turn's tool lifecycle events into
// one record per toolId, in start order, for the stored message.
func (e *Engine) foldToolExecutions(ctx context.Context, messageID string) []models.ToolExecution {
	state, err := e.pipeline.GetState(ctx, messageID)
	if err != nil {
		e.slog.Warn("engine: reading stream state for tool executions failed", "message", messageID, "error", err)
		return nil
	}
	return FoldToolExecutions(state.ToolEvents)
}

// FoldToolExecutions reduces a tool event sequence to per-call records.
func FoldToolExecutions(events []models.ToolEvent) []models.ToolExecution {
	var order []string
	byID := make(map[string]*models.ToolExecution)
	for _, ev := range events {
		exec, ok := byID[ev.ToolID]
		if !ok {
			exec = &models.ToolExecution{
				ToolID:    ev.ToolID,
				ToolName:  ev.ToolName,
				Status:    "running",
				Timestamp: ev.Timestamp,
			}
			byID[ev.ToolID] = exec
			order = append(order, ev.ToolID)
		}
		switch ev.Type {
		case models.ToolEventComplete:
			exec.Status = "completed"
			exec.Result = ev.Result
			exec.Metadata = ev.Metadata
			exec.DurationMs = durationMs(ev.Metadata)
		case models.ToolEventError:
			exec.Status = "error"
			exec.Error = ev.Error
			exec.Metadata = ev.Metadata
			exec.DurationMs = durationMs(ev.Metadata)
		}
	}
	executions := make([]models.ToolExecution, 0, len(order))
	for _, id := range order {
		executions = append(executions, *byID[id])
	}
	return executions
}

// durationMs reads the duration a tool event carries. Events that went
// through the bus arrive JSON-decoded, so numbers come back as float64.
func durationMs(metadata map[string]any) int64 {
	switch v := metadata["duration"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
