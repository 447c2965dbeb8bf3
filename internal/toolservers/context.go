package toolservers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/toolrpc"
)

const defaultConversationLimit = 20

// NewContextServer exposes conversation memory as tools: message storage,
// history retrieval, summaries and metadata. Everything routes through
// the memory manager so cache, metadata and durable writes stay in step.
func NewContextServer(bus ports.Bus, mem *memory.Manager, store ports.DurableStore, ids ports.IDGenerator, slogger *slog.Logger) *toolrpc.Server {
	srv := toolrpc.NewServer("context", "1.0", bus, slogger)
	srv.Register(&storeMessageTool{mem: mem, ids: ids})
	srv.Register(&getMessagesTool{mem: mem})
	srv.Register(&getContextHistoryTool{mem: mem})
	srv.Register(&getSummaryTool{mem: mem})
	srv.Register(&getMetadataTool{mem: mem})
	srv.Register(&getTokenCountTool{mem: mem})
	srv.Register(&listConversationsTool{store: store})
	srv.Register(&getThoughtsTool{store: store})
	return srv
}

// conversationID resolves the target conversation: explicit argument
// first, then the call metadata riding on the context.
func conversationID(ctx context.Context, args map[string]any) (string, error) {
	if id, ok := args["conversationId"].(string); ok && id != "" {
		return id, nil
	}
	if meta := toolrpc.MetaFromContext(ctx); meta.ConversationID != "" {
		return meta.ConversationID, nil
	}
	return "", fmt.Errorf("conversationId is required")
}

func conversationIDSchema() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Conversation id; defaults to the calling conversation",
	}
}

type storeMessageTool struct {
	mem *memory.Manager
	ids ports.IDGenerator
}

func (t *storeMessageTool) Name() string { return "store_message" }

func (t *storeMessageTool) Description() string {
	return "Append a message to a conversation's history"
}

func (t *storeMessageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role":           map[string]any{"type": "string", "description": "user, assistant or system"},
			"content":        map[string]any{"type": "string", "description": "The message text"},
			"messageId":      map[string]any{"type": "string", "description": "Optional id; generated when omitted"},
			"generationId":   map[string]any{"type": "string", "description": "Generation that produced the message"},
			"conversationId": conversationIDSchema(),
		},
		"required": []string{"role", "content"},
	}
}

func (t *storeMessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", ports.ErrEmptyContent
	}
	role, _ := args["role"].(string)
	switch models.MessageRole(role) {
	case models.MessageRoleUser, models.MessageRoleAssistant, models.MessageRoleSystem:
	default:
		return "", fmt.Errorf("invalid role: %q", role)
	}

	id, _ := args["messageId"].(string)
	if id == "" {
		id = t.ids.GenerateMessageID()
	}
	msg := models.NewMessage(id, convID, models.MessageRole(role), content)
	if genID, ok := args["generationId"].(string); ok {
		msg.GenerationID = genID
	}
	if meta := toolrpc.MetaFromContext(ctx); msg.GenerationID == "" && meta.GenerationID != "" {
		msg.GenerationID = meta.GenerationID
	}

	if err := t.mem.AddMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("store message: %w", err)
	}
	return "Stored message " + msg.ID, nil
}

type getMessagesTool struct {
	mem *memory.Manager
}

func (t *getMessagesTool) Name() string { return "get_messages" }

func (t *getMessagesTool) Description() string {
	return "Return the recent messages of a conversation as JSON"
}

func (t *getMessagesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
		},
	}
}

func (t *getMessagesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	messages, err := t.mem.GetMessages(ctx, convID)
	if err != nil {
		return "", err
	}
	return marshalMessages(messages)
}

type getContextHistoryTool struct {
	mem *memory.Manager
}

func (t *getContextHistoryTool) Name() string { return "get_context_history" }

func (t *getContextHistoryTool) Description() string {
	return "Return the token-budgeted message window used as LLM context"
}

func (t *getContextHistoryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
		},
	}
}

func (t *getContextHistoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	messages, err := t.mem.GetContextForConversation(ctx, convID)
	if err != nil {
		return "", err
	}
	return marshalMessages(messages)
}

type getSummaryTool struct {
	mem *memory.Manager
}

func (t *getSummaryTool) Name() string { return "get_summary" }

func (t *getSummaryTool) Description() string {
	return "Return the trailing and executive summaries of a conversation"
}

func (t *getSummaryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
		},
	}
}

func (t *getSummaryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	trailing, err := t.mem.GetTrailingSummary(ctx, convID)
	if err != nil {
		return "", err
	}
	executive, err := t.mem.GetExecutiveSummary(ctx, convID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]string{
		"trailingSummary":  trailing,
		"executiveSummary": executive,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type getMetadataTool struct {
	mem *memory.Manager
}

func (t *getMetadataTool) Name() string { return "get_conversation_metadata" }

func (t *getMetadataTool) Description() string {
	return "Return conversation metadata: title, counters, summary state"
}

func (t *getMetadataTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
		},
	}
}

func (t *getMetadataTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	meta, err := t.mem.GetMetadata(ctx, convID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type getTokenCountTool struct {
	mem *memory.Manager
}

func (t *getTokenCountTool) Name() string { return "get_token_count" }

func (t *getTokenCountTool) Description() string {
	return "Estimate the token footprint of a conversation's cached history"
}

func (t *getTokenCountTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
		},
	}
}

func (t *getTokenCountTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	count, err := t.mem.TokenCount(ctx, convID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]int{"tokens": count})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type listConversationsTool struct {
	store ports.DurableStore
}

func (t *listConversationsTool) Name() string { return "list_conversations" }

func (t *listConversationsTool) Description() string {
	return "List stored conversations, most recently updated first"
}

func (t *listConversationsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "number", "description": "Maximum conversations (default 20)"},
			"skip":  map[string]any{"type": "number", "description": "Offset for paging"},
		},
	}
}

func (t *listConversationsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	limit := defaultConversationLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	skip := 0
	if n, ok := args["skip"].(float64); ok && n > 0 {
		skip = int(n)
	}
	conversations, err := t.store.GetConversations(ctx, limit, skip)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(conversations)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type getThoughtsTool struct {
	store ports.DurableStore
}

func (t *getThoughtsTool) Name() string { return "get_thoughts" }

func (t *getThoughtsTool) Description() string {
	return "Return stored reasoning extracted from a conversation's replies"
}

func (t *getThoughtsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversationId": conversationIDSchema(),
			"limit":          map[string]any{"type": "number", "description": "Maximum thoughts (default 20)"},
		},
	}
}

func (t *getThoughtsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	convID, err := conversationID(ctx, args)
	if err != nil {
		return "", err
	}
	limit := defaultConversationLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	thoughts, err := t.store.GetThoughts(ctx, convID, limit)
	if err != nil {
		return "", err
	}
	if thoughts == nil {
		thoughts = []*models.Thought{}
	}
	out, err := json.Marshal(thoughts)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func marshalMessages(messages []*models.Message) (string, error) {
	if messages == nil {
		messages = []*models.Message{}
	}
	out, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
