package ports

import (
	"context"

	"github.com/redworks/red/internal/domain/models"
)

// DurableStore is the append-only persistence tier. It is the source of
// truth beyond the Bus cache horizon; writes are best-effort and a failure
// must never abort the conversational turn that produced it.
type DurableStore interface {
	StoreMessage(ctx context.Context, msg *models.Message) error
	StoreMessages(ctx context.Context, msgs []*models.Message) error
	// GetLastMessages returns the n most recent messages by timestamp, in
	// chronological order.
	GetLastMessages(ctx context.Context, conversationID string, n int) ([]*models.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// StoreGeneration upserts by generation id.
	StoreGeneration(ctx context.Context, gen *models.Generation) error
	UpdateGenerationStatus(ctx context.Context, generationID string, status models.GenerationStatus, errMsg string) error
	GetGeneration(ctx context.Context, generationID string) (*models.Generation, error)

	// StoreLogs writes a batch without retry on failure.
	StoreLogs(ctx context.Context, entries []*models.LogEntry) error

	StoreThought(ctx context.Context, thought *models.Thought) error
	GetThoughts(ctx context.Context, conversationID string, limit int) ([]*models.Thought, error)

	UpsertConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversationTitle(ctx context.Context, conversationID, title string, setByUser bool) error
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// GetConversations lists conversations by recency of update.
	GetConversations(ctx context.Context, limit, skip int) ([]*models.Conversation, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
