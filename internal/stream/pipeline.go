// Package stream maintains per-message generation state in the bus, fans
// out streaming events, and makes SSE reconnects replay-safe.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

const (
	stateTTL         = time.Hour
	readyTTL         = 60 * time.Second
	readyWaitTimeout = 5 * time.Second
	readyPollEvery   = 100 * time.Millisecond
)

func stateKey(messageID string) string {
	return "message:generating:" + messageID
}

func streamChannel(messageID string) string {
	return "message:stream:" + messageID
}

func toolEventChannel(messageID string) string {
	return "tool:event:" + messageID
}

func readyKey(messageID string) string {
	return "stream:ready:" + messageID
}

func activeSetKey(conversationID string) string {
	return "conversation:generating:" + conversationID
}

// Pipeline is the sole mutator of MessageGenerationState. It keeps the live
// state of in-flight messages in memory and mirrors every mutation to the
// bus, where reconnecting subscribers replay from.
type Pipeline struct {
	bus  ports.Bus
	slog *slog.Logger

	mu     sync.Mutex
	states map[string]*models.MessageGenerationState
}

func NewPipeline(bus ports.Bus, slogger *slog.Logger) *Pipeline {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Pipeline{
		bus:    bus,
		slog:   slogger,
		states: make(map[string]*models.MessageGenerationState),
	}
}

// StartMessage registers a new streaming assistant turn.
func (p *Pipeline) StartMessage(ctx context.Context, conversationID, messageID string) error {
	state := models.NewMessageGenerationState(conversationID, messageID)
	p.mu.Lock()
	p.states[messageID] = state
	p.mu.Unlock()

	if err := p.persist(ctx, state); err != nil {
		return err
	}
	if err := p.bus.SAdd(ctx, activeSetKey(conversationID), messageID); err != nil {
		p.slog.Warn("stream: active set add failed", "message", messageID, "error", err)
	}
	return nil
}

// mutate applies fn to the live state and mirrors it to the bus.
func (p *Pipeline) mutate(ctx context.Context, messageID string, fn func(*models.MessageGenerationState)) error {
	p.mu.Lock()
	state, ok := p.states[messageID]
	if ok {
		fn(state)
	}
	p.mu.Unlock()
	if !ok {
		return ports.ErrNoStreamState
	}
	return p.persist(ctx, state)
}

func (p *Pipeline) persist(ctx context.Context, state *models.MessageGenerationState) error {
	p.mu.Lock()
	data, err := json.Marshal(state)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal stream state: %w", err)
	}
	if err := p.bus.Set(ctx, stateKey(state.MessageID), string(data), stateTTL); err != nil {
		return fmt.Errorf("persist stream state: %w", err)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, messageID string, event models.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.slog.Error("stream: marshal event failed", "error", err)
		return
	}
	if err := p.bus.Publish(ctx, streamChannel(messageID), string(data)); err != nil {
		p.slog.Warn("stream: publish failed", "message", messageID, "error", err)
	}
}

// AppendContent adds user-visible tokens and emits a chunk event.
func (p *Pipeline) AppendContent(ctx context.Context, messageID, content string) error {
	if content == "" {
		return nil
	}
	if err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		s.Content += content
	}); err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventChunk, Content: content})
	return nil
}

// AppendThinking adds thinking tokens and emits a thinking chunk event.
func (p *Pipeline) AppendThinking(ctx context.Context, messageID, content string) error {
	if content == "" {
		return nil
	}
	if err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		s.Thinking += content
	}); err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventChunk, Content: content, Thinking: true})
	return nil
}

// ThinkingComplete signals the end of a thinking block.
func (p *Pipeline) ThinkingComplete(ctx context.Context, messageID string) {
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventThinkingComplete})
}

// AddToolEvent records a tool lifecycle event in the state and fans it out
// on both the message stream and the tool event channel.
func (p *Pipeline) AddToolEvent(ctx context.Context, messageID string, event models.ToolEvent) error {
	if err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		s.ToolEvents = append(s.ToolEvents, event)
	}); err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventToolEvent, Event: &event})

	data, err := json.Marshal(event)
	if err == nil {
		if err := p.bus.Publish(ctx, toolEventChannel(messageID), string(data)); err != nil {
			p.slog.Warn("stream: tool event publish failed", "message", messageID, "error", err)
		}
	}
	return nil
}

// SetStatus records a progress indicator and emits a status event.
func (p *Pipeline) SetStatus(ctx context.Context, messageID, action, description string) error {
	if err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		s.CurrentStatus = &models.StatusInfo{Type: models.StreamEventStatus, Action: action, Description: description}
	}); err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventStatus, Action: action, Description: description})
	return nil
}

// SetToolStatus records a tool progress indicator and emits a tool_status
// event.
func (p *Pipeline) SetToolStatus(ctx context.Context, messageID, status, action string) error {
	if err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		s.CurrentStatus = &models.StatusInfo{Type: models.StreamEventToolStatus, Status: status, Action: action}
	}); err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventToolStatus, Status: status, Action: action})
	return nil
}

// Complete marks the state terminal-success and emits a complete event.
func (p *Pipeline) Complete(ctx context.Context, messageID string, metadata map[string]any) error {
	var conversationID string
	err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		now := time.Now().UTC()
		s.Status = models.GenerationStatusCompleted
		s.CompletedAt = &now
		s.CurrentStatus = nil
		s.Metadata = metadata
		conversationID = s.ConversationID
	})
	if err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventComplete, Metadata: metadata})
	p.release(ctx, conversationID, messageID)
	return nil
}

// Fail marks the state terminal-error and emits an error event.
func (p *Pipeline) Fail(ctx context.Context, messageID, errMsg string) error {
	var conversationID string
	err := p.mutate(ctx, messageID, func(s *models.MessageGenerationState) {
		now := time.Now().UTC()
		s.Status = models.GenerationStatusError
		s.CompletedAt = &now
		s.CurrentStatus = nil
		s.Error = errMsg
		conversationID = s.ConversationID
	})
	if err != nil {
		return err
	}
	p.publish(ctx, messageID, models.StreamEvent{Type: models.StreamEventError, Error: errMsg})
	p.release(ctx, conversationID, messageID)
	return nil
}

func (p *Pipeline) release(ctx context.Context, conversationID, messageID string) {
	p.mu.Lock()
	delete(p.states, messageID)
	p.mu.Unlock()
	if conversationID != "" {
		if err := p.bus.SRem(ctx, activeSetKey(conversationID), messageID); err != nil {
			p.slog.Warn("stream: active set remove failed", "message", messageID, "error", err)
		}
	}
}

// GetState reads the authoritative state from the bus.
func (p *Pipeline) GetState(ctx context.Context, messageID string) (*models.MessageGenerationState, error) {
	raw, err := p.bus.Get(ctx, stateKey(messageID))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ports.ErrNoStreamState
		}
		return nil, err
	}
	var state models.MessageGenerationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode stream state: %w", err)
	}
	return &state, nil
}

// ActiveMessages lists the messageIds currently generating for a
// conversation.
func (p *Pipeline) ActiveMessages(ctx context.Context, conversationID string) ([]string, error) {
	return p.bus.SMembers(ctx, activeSetKey(conversationID))
}

// MarkStreamReady is called by the SSE consumer once it is attached and
// draining events.
func (p *Pipeline) MarkStreamReady(ctx context.Context, messageID string) error {
	return p.bus.Set(ctx, readyKey(messageID), "1", readyTTL)
}

// WaitStreamReady blocks until the consumer signals readiness or the
// timeout passes. It reports whether the handshake arrived; generation
// proceeds either way.
func (p *Pipeline) WaitStreamReady(ctx context.Context, messageID string) bool {
	deadline := time.NewTimer(readyWaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollEvery)
	defer tick.Stop()
	for {
		if _, err := p.bus.Get(ctx, readyKey(messageID)); err == nil {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			p.slog.Warn("stream: ready handshake timed out, proceeding", "message", messageID)
			return false
		case <-ctx.Done():
			return false
		}
	}
}
