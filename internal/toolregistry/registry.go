// Package toolregistry tracks connected tool servers and routes tool
// calls to them, emitting lifecycle events for the streaming surface.
package toolregistry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redworks/red/internal/adapters/metrics"
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
	"github.com/redworks/red/internal/toolrpc"
)

// Infrastructure tools run on every turn as plumbing; publishing
// lifecycle events for them would drown the stream in noise.
var infrastructureTools = map[string]bool{
	"store_message":             true,
	"get_messages":              true,
	"get_context_history":       true,
	"get_summary":               true,
	"get_conversation_metadata": true,
	"get_token_count":           true,
	"get_thoughts":              true,
	"list_conversations":        true,
	"add_document":              true,
	"delete_documents":          true,
}

// Registry connects to tool servers over the bus and exposes their
// combined tool surface. Calls on behalf of a streaming message emit
// tool_start / tool_complete / tool_error events through the pipeline.
type Registry struct {
	bus      ports.Bus
	pipeline *stream.Pipeline
	slog     *slog.Logger

	mu      sync.RWMutex
	servers map[string]*toolrpc.Client
	order   []string

	nowFunc func() time.Time
}

func New(bus ports.Bus, pipeline *stream.Pipeline, slogger *slog.Logger) *Registry {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Registry{
		bus:      bus,
		pipeline: pipeline,
		slog:     slogger,
		servers:  make(map[string]*toolrpc.Client),
		nowFunc:  time.Now,
	}
}

// RegisterServer connects to a running tool server by name: handshake,
// tools/list, then the server's tools become callable.
func (r *Registry) RegisterServer(ctx context.Context, name string) error {
	client, err := toolrpc.Connect(ctx, r.bus, name)
	if err != nil {
		return fmt.Errorf("register server %s: %w", name, err)
	}

	r.mu.Lock()
	if old, exists := r.servers[name]; exists {
		old.Close()
	} else {
		r.order = append(r.order, name)
	}
	r.servers[name] = client
	r.mu.Unlock()

	r.slog.Info("toolregistry: server registered", "server", name, "tools", len(client.Tools()))
	return nil
}

// FindTool reports which server exposes the named tool.
func (r *Registry) FindTool(name string) (string, *toolrpc.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, serverName := range r.order {
		client := r.servers[serverName]
		for _, tool := range client.Tools() {
			if tool.Name == name {
				return serverName, &tool, true
			}
		}
	}
	return "", nil, false
}

// Tools returns the combined descriptors of every registered server.
func (r *Registry) Tools() []toolrpc.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []toolrpc.ToolDescriptor
	for _, serverName := range r.order {
		out = append(out, r.servers[serverName].Tools()...)
	}
	return out
}

// CallTool routes a tool call to its server. For user-visible tools it
// publishes the tool lifecycle onto the message stream; infrastructure
// tools run silently. Results carrying isError come back as content
// with toolErr=true so the caller can fold the soft failure into the
// conversation; err is reserved for transport-level failures.
func (r *Registry) CallTool(ctx context.Context, toolName string, args map[string]any, meta toolrpc.CallMeta) (result string, toolErr bool, err error) {
	serverName, _, found := r.FindTool(toolName)
	if !found {
		return "", false, fmt.Errorf("%w: %s", ports.ErrToolNotFound, toolName)
	}
	r.mu.RLock()
	client := r.servers[serverName]
	r.mu.RUnlock()
	if client == nil {
		return "", false, fmt.Errorf("%w: %s", ports.ErrToolNotFound, toolName)
	}

	quiet := infrastructureTools[toolName] || meta.MessageID == ""
	toolID := toolName + "_" + strconv.FormatInt(r.nowFunc().UnixMilli(), 10)

	if !quiet {
		r.emit(ctx, meta.MessageID, models.ToolEvent{
			Type:      models.ToolEventStart,
			ToolID:    toolID,
			ToolType:  toolName,
			ToolName:  toolName,
			Timestamp: r.nowFunc(),
		})
	}

	started := r.nowFunc()
	callResult, err := client.CallTool(ctx, toolName, args, meta)
	duration := r.nowFunc().Sub(started)
	metrics.ToolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())

	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "error").Inc()
		if !quiet {
			r.emit(ctx, meta.MessageID, models.ToolEvent{
				Type:      models.ToolEventError,
				ToolID:    toolID,
				ToolType:  toolName,
				ToolName:  toolName,
				Timestamp: r.nowFunc(),
				Error:     err.Error(),
				Metadata:  map[string]any{"duration": duration.Milliseconds()},
			})
		}
		return "", false, fmt.Errorf("call %s: %w", toolName, err)
	}

	text := callResult.Text()
	if callResult.IsError {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "tool_error").Inc()
		if !quiet {
			r.emit(ctx, meta.MessageID, models.ToolEvent{
				Type:      models.ToolEventError,
				ToolID:    toolID,
				ToolType:  toolName,
				ToolName:  toolName,
				Timestamp: r.nowFunc(),
				Error:     text,
				Metadata:  map[string]any{"duration": duration.Milliseconds()},
			})
		}
		return text, true, nil
	}

	metrics.ToolCallsTotal.WithLabelValues(toolName, "success").Inc()
	if !quiet {
		r.emit(ctx, meta.MessageID, models.ToolEvent{
			Type:      models.ToolEventComplete,
			ToolID:    toolID,
			ToolType:  toolName,
			ToolName:  toolName,
			Timestamp: r.nowFunc(),
			Result:    text,
			Metadata:  map[string]any{"duration": duration.Milliseconds()},
		})
	}
	return text, false, nil
}

func (r *Registry) emit(ctx context.Context, messageID string, event models.ToolEvent) {
	if err := r.pipeline.AddToolEvent(ctx, messageID, event); err != nil {
		r.slog.Warn("toolregistry: tool event dropped", "message", messageID, "tool", event.ToolName, "error", err)
	}
}

// Disconnect closes every server connection. Idempotent.
func (r *Registry) Disconnect() {
	r.mu.Lock()
	servers := r.servers
	r.servers = make(map[string]*toolrpc.Client)
	r.order = nil
	r.mu.Unlock()

	for name, client := range servers {
		client.Close()
		r.slog.Info("toolregistry: server disconnected", "server", name)
	}
}
