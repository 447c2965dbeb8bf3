// Package logs implements the product-level log stream: bus-backed fanout
// plus batched durable persistence.
package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

const (
	logTTL         = 30 * 24 * time.Hour
	flushInterval  = 5 * time.Second
	flushBatchSize = 100

	// ChannelAll receives every log entry.
	ChannelAll = "logs:all"
)

func generationChannel(generationID string) string {
	return "logs:generation:" + generationID
}

func conversationChannel(conversationID string) string {
	return "logs:conversation:" + conversationID
}

// Logger writes LogEntry records to the bus and, when a durable store is
// attached, batches them for persistence. The write path never blocks a
// turn: failures are logged to the operator log and dropped.
type Logger struct {
	bus   ports.Bus
	ids   ports.IDGenerator
	store ports.DurableStore
	slog  *slog.Logger

	mu    sync.Mutex
	batch []*models.LogEntry

	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// New returns a bus-only logger.
func New(bus ports.Bus, ids ports.IDGenerator, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		bus:  bus,
		ids:  ids,
		slog: logger,
		done: make(chan struct{}),
	}
}

// NewPersistent returns a logger that additionally batches entries to the
// durable store, flushing every 5 seconds or at 100 queued entries.
func NewPersistent(bus ports.Bus, store ports.DurableStore, ids ports.IDGenerator, logger *slog.Logger) *Logger {
	l := New(bus, ids, logger)
	l.store = store
	l.wg.Add(1)
	go l.flushLoop()
	return l
}

// Log assigns an id and timestamp, persists the entry at log:<id>, appends
// it to the per-generation and per-conversation lists, and publishes it on
// the fanout channels.
func (l *Logger) Log(ctx context.Context, entry *models.LogEntry) {
	if entry.ID == "" {
		entry.ID = l.ids.GenerateLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.slog.Error("logs: marshal entry failed", "error", err)
		return
	}
	payload := string(data)

	if err := l.bus.Set(ctx, "log:"+entry.ID, payload, logTTL); err != nil {
		l.slog.Warn("logs: store entry failed", "error", err)
	}

	if entry.GenerationID != "" {
		key := "generation:" + entry.GenerationID + ":logs"
		if err := l.bus.RPush(ctx, key, entry.ID); err == nil {
			_ = l.bus.Expire(ctx, key, logTTL)
		}
		_ = l.bus.Publish(ctx, generationChannel(entry.GenerationID), payload)
	}
	if entry.ConversationID != "" {
		key := "conversation:" + entry.ConversationID + ":logs"
		if err := l.bus.RPush(ctx, key, entry.ID); err == nil {
			_ = l.bus.Expire(ctx, key, logTTL)
		}
		_ = l.bus.Publish(ctx, conversationChannel(entry.ConversationID), payload)
	}
	_ = l.bus.Publish(ctx, ChannelAll, payload)

	if l.store != nil {
		l.enqueue(entry)
	}
}

// Entry builds and logs an entry in one call.
func (l *Logger) Entry(ctx context.Context, level models.LogLevel, category models.LogCategory, message, generationID, conversationID string, metadata map[string]any) {
	l.Log(ctx, &models.LogEntry{
		Level:          level,
		Category:       category,
		Message:        message,
		GenerationID:   generationID,
		ConversationID: conversationID,
		Metadata:       metadata,
	})
}

func (l *Logger) Info(ctx context.Context, category models.LogCategory, message, generationID, conversationID string) {
	l.Entry(ctx, models.LogLevelInfo, category, message, generationID, conversationID, nil)
}

func (l *Logger) Error(ctx context.Context, category models.LogCategory, message, generationID, conversationID string) {
	l.Entry(ctx, models.LogLevelError, category, message, generationID, conversationID, nil)
}

func (l *Logger) Success(ctx context.Context, category models.LogCategory, message, generationID, conversationID string) {
	l.Entry(ctx, models.LogLevelSuccess, category, message, generationID, conversationID, nil)
}

func (l *Logger) enqueue(entry *models.LogEntry) {
	l.mu.Lock()
	l.batch = append(l.batch, entry)
	full := len(l.batch) >= flushBatchSize
	l.mu.Unlock()
	if full {
		l.Flush(context.Background())
	}
}

// Flush writes the queued batch to the durable store. Failed batches are
// dropped so the queue cannot grow without bound.
func (l *Logger) Flush(ctx context.Context) {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	batch := l.batch
	l.batch = nil
	l.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := l.store.StoreLogs(ctx, batch); err != nil {
		l.slog.Warn("logs: flush failed, dropping batch", "count", len(batch), "error", err)
	}
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Flush(context.Background())
		case <-l.done:
			return
		}
	}
}

// Close drains the batch and stops the flusher.
func (l *Logger) Close(ctx context.Context) {
	l.closed.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	l.Flush(ctx)
}

var colourTag = regexp.MustCompile(`</?(?:red|green|yellow|blue|magenta|cyan|white|gray|grey|dim|bold)>`)

// StripColors removes inline colour tags from a log message. Tags are data
// in the stored entry; renderers decide whether to honour them.
func StripColors(message string) string {
	return colourTag.ReplaceAllString(message, "")
}
