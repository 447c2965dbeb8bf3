// Package generation owns the lifecycle of an assistant turn: start with a
// per-conversation concurrency guard, complete, and fail.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redworks/red/internal/adapters/metrics"
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/ports"
)

const (
	// StaleThreshold is how old a generating record must be before a new
	// startGeneration may reclaim it.
	StaleThreshold = 5 * time.Minute

	generationTTL = 30 * 24 * time.Hour

	// responseLogLimit truncates the response echoed into the chat log.
	responseLogLimit = 10000
)

func generationKey(generationID string) string {
	return "generation:" + generationID
}

func pointerKey(conversationID string) string {
	return "conversation:" + conversationID + ":generation"
}

// Registry is the sole mutator of Generation records.
type Registry struct {
	bus    ports.Bus
	store  ports.DurableStore
	ids    ports.IDGenerator
	logger *logs.Logger
	slog   *slog.Logger

	staleThreshold time.Duration
	nowFunc        func() time.Time
}

func NewRegistry(bus ports.Bus, store ports.DurableStore, ids ports.IDGenerator, logger *logs.Logger, slogger *slog.Logger) *Registry {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Registry{
		bus:            bus,
		store:          store,
		ids:            ids,
		logger:         logger,
		slog:           slogger,
		staleThreshold: StaleThreshold,
		nowFunc:        time.Now,
	}
}

// StartGeneration begins a new assistant turn for a conversation. It
// enforces the concurrency guard: a non-stale generating record makes it
// return ErrGenerationInProgress; a stale one is force-failed first.
func (r *Registry) StartGeneration(ctx context.Context, conversationID, generationID string) (string, error) {
	current, err := r.bus.Get(ctx, pointerKey(conversationID))
	if err == nil && current != "" {
		existing, getErr := r.GetGeneration(ctx, current)
		switch {
		case getErr != nil:
			// Pointer to a vanished record: clear it and continue.
			_ = r.bus.Del(ctx, pointerKey(conversationID))
		case existing.IsGenerating() && r.age(existing) <= r.staleThreshold:
			return "", ports.ErrGenerationInProgress
		case existing.IsGenerating():
			r.slog.Warn("generation: reclaiming stale record", "generation", existing.ID, "age", r.age(existing))
			if failErr := r.FailGeneration(ctx, existing.ID, "Generation timed out (stale)"); failErr != nil {
				r.slog.Warn("generation: stale fail failed", "generation", existing.ID, "error", failErr)
			}
		}
	}

	if generationID == "" {
		generationID = r.ids.GenerateGenerationID()
	}
	gen := models.NewGeneration(generationID, conversationID)
	gen.StartedAt = r.nowFunc().UTC()

	if err := r.save(ctx, gen); err != nil {
		return "", fmt.Errorf("save generation: %w", err)
	}
	if err := r.bus.Set(ctx, pointerKey(conversationID), generationID, generationTTL); err != nil {
		return "", fmt.Errorf("set generation pointer: %w", err)
	}
	if err := r.store.StoreGeneration(ctx, gen); err != nil {
		r.slog.Warn("generation: durable store failed", "generation", generationID, "error", err)
	}

	if r.logger != nil {
		r.logger.Info(ctx, models.LogCategoryGeneration, "Generation started", generationID, conversationID)
	}
	return generationID, nil
}

// CompleteResult carries the terminal data of a successful turn.
type CompleteResult struct {
	Response  string
	Thinking  string
	Route     string
	ToolsUsed []string
	Model     string
	Tokens    int
}

// CompleteGeneration marks a generation completed and releases the
// conversation's guard if it still points at this generation.
func (r *Registry) CompleteGeneration(ctx context.Context, generationID string, result CompleteResult) error {
	gen, err := r.GetGeneration(ctx, generationID)
	if err != nil {
		return err
	}

	now := r.nowFunc().UTC()
	gen.Status = models.GenerationStatusCompleted
	gen.CompletedAt = &now
	gen.Response = result.Response
	gen.Thinking = result.Thinking
	gen.Route = result.Route
	gen.ToolsUsed = result.ToolsUsed
	gen.Model = result.Model
	gen.Tokens = result.Tokens

	if err := r.finish(ctx, gen); err != nil {
		return err
	}

	elapsed := now.Sub(gen.StartedAt)
	metrics.GenerationsTotal.WithLabelValues(string(models.GenerationStatusCompleted)).Inc()
	metrics.GenerationDuration.Observe(elapsed.Seconds())

	if r.logger != nil {
		r.logger.Success(ctx, models.LogCategoryGeneration,
			fmt.Sprintf("Generation completed (%dms)", elapsed.Milliseconds()),
			generationID, gen.ConversationID)
		r.logger.Info(ctx, models.LogCategoryChat, truncate(result.Response, responseLogLimit),
			generationID, gen.ConversationID)
	}
	return nil
}

// FailGeneration marks a generation errored and releases the guard.
func (r *Registry) FailGeneration(ctx context.Context, generationID, errMsg string) error {
	gen, err := r.GetGeneration(ctx, generationID)
	if err != nil {
		return err
	}

	now := r.nowFunc().UTC()
	gen.Status = models.GenerationStatusError
	gen.CompletedAt = &now
	gen.Error = errMsg

	if err := r.finish(ctx, gen); err != nil {
		return err
	}

	metrics.GenerationsTotal.WithLabelValues(string(models.GenerationStatusError)).Inc()
	metrics.GenerationDuration.Observe(now.Sub(gen.StartedAt).Seconds())

	if r.logger != nil {
		r.logger.Error(ctx, models.LogCategoryGeneration, "Generation failed: "+errMsg,
			generationID, gen.ConversationID)
	}
	return nil
}

// GetGeneration reads a generation record from the bus.
func (r *Registry) GetGeneration(ctx context.Context, generationID string) (*models.Generation, error) {
	raw, err := r.bus.Get(ctx, generationKey(generationID))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("read generation: %w", err)
	}
	var gen models.Generation
	if err := json.Unmarshal([]byte(raw), &gen); err != nil {
		return nil, fmt.Errorf("decode generation: %w", err)
	}
	return &gen, nil
}

func (r *Registry) save(ctx context.Context, gen *models.Generation) error {
	data, err := json.Marshal(gen)
	if err != nil {
		return err
	}
	return r.bus.Set(ctx, generationKey(gen.ID), string(data), generationTTL)
}

// finish persists a terminal record and clears the conversation pointer if
// it still references this generation.
func (r *Registry) finish(ctx context.Context, gen *models.Generation) error {
	if err := r.save(ctx, gen); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	if current, err := r.bus.Get(ctx, pointerKey(gen.ConversationID)); err == nil && current == gen.ID {
		_ = r.bus.Del(ctx, pointerKey(gen.ConversationID))
	}
	if err := r.store.StoreGeneration(ctx, gen); err != nil {
		r.slog.Warn("generation: durable update failed", "generation", gen.ID, "error", err)
	}
	return nil
}

func (r *Registry) age(gen *models.Generation) time.Duration {
	return r.nowFunc().Sub(gen.StartedAt)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
