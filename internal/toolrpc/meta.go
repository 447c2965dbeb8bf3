package toolrpc

import "context"

// CallMeta scopes a tool call to the turn that issued it. It travels on
// the wire in params._meta and server-side through the context.
type CallMeta struct {
	ConversationID string
	GenerationID   string
	MessageID      string
}

func (m CallMeta) ToMap() map[string]any {
	out := make(map[string]any, 3)
	if m.ConversationID != "" {
		out["conversationId"] = m.ConversationID
	}
	if m.GenerationID != "" {
		out["generationId"] = m.GenerationID
	}
	if m.MessageID != "" {
		out["messageId"] = m.MessageID
	}
	return out
}

func MetaFromMap(raw map[string]any) CallMeta {
	var m CallMeta
	if v, ok := raw["conversationId"].(string); ok {
		m.ConversationID = v
	}
	if v, ok := raw["generationId"].(string); ok {
		m.GenerationID = v
	}
	if v, ok := raw["messageId"].(string); ok {
		m.MessageID = v
	}
	return m
}

type metaContextKey struct{}

// WithMeta attaches call metadata to a context.
func WithMeta(ctx context.Context, meta CallMeta) context.Context {
	return context.WithValue(ctx, metaContextKey{}, meta)
}

// MetaFromContext extracts call metadata; the zero value when absent.
func MetaFromContext(ctx context.Context) CallMeta {
	if meta, ok := ctx.Value(metaContextKey{}).(CallMeta); ok {
		return meta
	}
	return CallMeta{}
}
