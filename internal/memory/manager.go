// Package memory maintains the conversation memory tier: a bus-backed hot
// cache of recent messages in front of the durable store, token-budgeted
// context assembly, and the trailing/executive summary bookkeeping.
package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/ports"
)

const (
	// CacheLimit caps the hot cache per conversation; older entries fall
	// off the head and survive only in the durable store.
	CacheLimit = 100

	// messageTokenOverhead is added per message on top of its content
	// tokens, covering role and framing tokens.
	messageTokenOverhead = 4

	// DefaultMaxContextTokens bounds context assembly when no budget is
	// configured.
	DefaultMaxContextTokens = 30000

	// DefaultSummaryCushionTokens is how far past the budget the total may
	// drift before a trim-and-summarise pass runs.
	DefaultSummaryCushionTokens = 2000
)

func messagesKey(conversationID string) string {
	return "conversations:" + conversationID + ":messages"
}

func metadataKey(conversationID string) string {
	return "conversations:" + conversationID + ":metadata"
}

func trailingSummaryKey(conversationID string) string {
	return "conversations:" + conversationID + ":summary:trailing"
}

func executiveSummaryKey(conversationID string) string {
	return "conversations:" + conversationID + ":summary:executive"
}

// Manager is the sole mutator of the conversation cache and metadata.
type Manager struct {
	bus       ports.Bus
	store     ports.DurableStore
	tokenizer ports.Tokenizer
	logger    *logs.Logger
	slog      *slog.Logger

	maxContextTokens     int
	summaryCushionTokens int
}

// Options tunes the manager. Zero values select the defaults.
type Options struct {
	MaxContextTokens     int
	SummaryCushionTokens int
}

func NewManager(bus ports.Bus, store ports.DurableStore, tok ports.Tokenizer, logger *logs.Logger, slogger *slog.Logger, opts Options) *Manager {
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = DefaultMaxContextTokens
	}
	if opts.SummaryCushionTokens <= 0 {
		opts.SummaryCushionTokens = DefaultSummaryCushionTokens
	}
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Manager{
		bus:                  bus,
		store:                store,
		tokenizer:            tok,
		logger:               logger,
		slog:                 slogger,
		maxContextTokens:     opts.MaxContextTokens,
		summaryCushionTokens: opts.SummaryCushionTokens,
	}
}

// MaxContextTokens reports the configured context budget.
func (m *Manager) MaxContextTokens() int {
	return m.maxContextTokens
}

// DeriveConversationID returns a stable id for a seed message: the first 16
// hex characters of its SHA-256. The same first message always lands in the
// same conversation, which makes request retries idempotent.
func DeriveConversationID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

// NewConversationID returns a random 16-hex conversation id.
func NewConversationID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to a time-derived id rather than failing the turn.
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

// MessageTokens counts the budget cost of one message.
func (m *Manager) MessageTokens(msg *models.Message) int {
	return m.tokenizer.CountTokens(msg.Content) + messageTokenOverhead
}

// AddMessage writes a message through to the cache and the durable store
// and updates the conversation metadata. The durable write is best-effort;
// the cache stays consistent either way.
func (m *Manager) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.Content == "" {
		return ports.ErrEmptyContent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := messagesKey(msg.ConversationID)
	if err := m.bus.RPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("cache message: %w", err)
	}
	if err := m.bus.LTrim(ctx, key, -CacheLimit, -1); err != nil {
		m.slog.Warn("memory: cache trim failed", "conversation", msg.ConversationID, "error", err)
	}

	meta, _ := m.GetMetadata(ctx, msg.ConversationID)
	meta.MessageCount++
	meta.LastUpdated = time.Now().UTC()
	meta.TotalTokens += m.MessageTokens(msg)
	if err := m.setMetadata(ctx, msg.ConversationID, meta); err != nil {
		m.slog.Warn("memory: metadata update failed", "conversation", msg.ConversationID, "error", err)
	}

	if err := m.store.StoreMessage(ctx, msg); err != nil {
		m.slog.Warn("memory: durable store failed", "conversation", msg.ConversationID, "error", err)
		if m.logger != nil {
			m.logger.Entry(ctx, models.LogLevelWarn, models.LogCategoryMemory,
				"Durable message store failed, cache-only: "+err.Error(), msg.GenerationID, msg.ConversationID, nil)
		}
	}
	m.upsertConversation(ctx, msg.ConversationID, meta)

	return nil
}

func (m *Manager) upsertConversation(ctx context.Context, conversationID string, meta *models.ConversationMetadata) {
	conv := &models.Conversation{
		ID:             conversationID,
		Title:          meta.Title,
		MessageCount:   meta.MessageCount,
		TotalTokens:    meta.TotalTokens,
		TitleSetByUser: meta.TitleSetByUser,
		UpdatedAt:      meta.LastUpdated,
	}
	if err := m.store.UpsertConversation(ctx, conv); err != nil {
		m.slog.Warn("memory: conversation upsert failed", "conversation", conversationID, "error", err)
	}
}

// GetMessages returns the hot cache, hydrating it from the durable store
// when it is empty.
func (m *Manager) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	cached, err := m.bus.LRange(ctx, messagesKey(conversationID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(cached) > 0 {
		return decodeMessages(cached), nil
	}

	stored, err := m.store.GetLastMessages(ctx, conversationID, CacheLimit)
	if err != nil {
		return nil, fmt.Errorf("hydrate from store: %w", err)
	}
	if len(stored) == 0 {
		return nil, nil
	}

	encoded := make([]string, 0, len(stored))
	for _, msg := range stored {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		encoded = append(encoded, string(data))
	}
	if err := m.bus.RPush(ctx, messagesKey(conversationID), encoded...); err != nil {
		m.slog.Warn("memory: cache hydrate failed", "conversation", conversationID, "error", err)
	}
	return stored, nil
}

// GetAllMessagesFromDB bypasses the cache and returns the full history.
func (m *Manager) GetAllMessagesFromDB(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return m.store.GetMessages(ctx, conversationID)
}

// GetContextForConversation returns the longest suffix of the cached
// messages whose total token count fits the budget.
func (m *Manager) GetContextForConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	msgs, err := m.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	total := 0
	split := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := m.MessageTokens(msgs[i])
		if total+cost > m.maxContextTokens {
			break
		}
		total += cost
		split = i
	}
	return msgs[split:], nil
}

// TokenCount reports the budget cost of the cached conversation.
func (m *Manager) TokenCount(ctx context.Context, conversationID string) (int, error) {
	msgs, err := m.GetMessages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range msgs {
		total += m.MessageTokens(msg)
	}
	return total, nil
}

// GetMetadata reads the conversation metadata hash. A missing hash returns
// zero-valued metadata, never an error.
func (m *Manager) GetMetadata(ctx context.Context, conversationID string) (*models.ConversationMetadata, error) {
	fields, err := m.bus.HGetAll(ctx, metadataKey(conversationID))
	if err != nil {
		return &models.ConversationMetadata{}, err
	}
	meta := &models.ConversationMetadata{
		Title:              fields["title"],
		ContentToSummarize: fields["contentToSummarize"],
	}
	meta.MessageCount, _ = strconv.Atoi(fields["messageCount"])
	meta.TotalTokens, _ = strconv.Atoi(fields["totalTokens"])
	meta.TitleSetByUser = fields["titleSetByUser"] == "true"
	meta.NeedsTrailingSummaryGeneration = fields["needsTrailingSummaryGeneration"] == "true"
	if ts := fields["lastUpdated"]; ts != "" {
		meta.LastUpdated, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return meta, nil
}

func (m *Manager) setMetadata(ctx context.Context, conversationID string, meta *models.ConversationMetadata) error {
	fields := map[string]string{
		"title":                          meta.Title,
		"messageCount":                   strconv.Itoa(meta.MessageCount),
		"lastUpdated":                    meta.LastUpdated.Format(time.RFC3339Nano),
		"totalTokens":                    strconv.Itoa(meta.TotalTokens),
		"titleSetByUser":                 strconv.FormatBool(meta.TitleSetByUser),
		"needsTrailingSummaryGeneration": strconv.FormatBool(meta.NeedsTrailingSummaryGeneration),
		"contentToSummarize":             meta.ContentToSummarize,
	}
	return m.bus.HSet(ctx, metadataKey(conversationID), fields)
}

// SetTitle records a conversation title in both tiers. setByUser titles are
// never overwritten by generated ones.
func (m *Manager) SetTitle(ctx context.Context, conversationID, title string, setByUser bool) error {
	meta, _ := m.GetMetadata(ctx, conversationID)
	if meta.TitleSetByUser && !setByUser {
		return nil
	}
	meta.Title = title
	meta.TitleSetByUser = setByUser
	if err := m.setMetadata(ctx, conversationID, meta); err != nil {
		return err
	}
	if err := m.store.UpdateConversationTitle(ctx, conversationID, title, setByUser); err != nil {
		m.slog.Warn("memory: durable title update failed", "conversation", conversationID, "error", err)
	}
	return nil
}

func decodeMessages(raw []string) []*models.Message {
	out := make([]*models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		out = append(out, &msg)
	}
	return out
}
