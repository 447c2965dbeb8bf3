package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redworks/red/internal/ports"
)

// Tool is one callable capability exposed by a Server.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// Execute runs the tool. Call metadata is available through
	// MetaFromContext. Errors become isError results on the wire, never
	// protocol failures.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Server answers JSON-RPC requests on mcp:server:<name>:request and
// publishes responses on mcp:server:<name>:response.
type Server struct {
	name    string
	version string
	bus     ports.Bus
	slog    *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
	order []string

	sub    ports.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

func NewServer(name, version string, bus ports.Bus, slogger *slog.Logger) *Server {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Server{
		name:    name,
		version: version,
		bus:     bus,
		slog:    slogger,
		tools:   make(map[string]Tool),
	}
}

func (s *Server) Name() string {
	return s.name
}

// Register adds a tool. Registration after Start is allowed; tools/list
// reflects the current set.
func (s *Server) Register(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name()]; !exists {
		s.order = append(s.order, tool.Name())
	}
	s.tools[tool.Name()] = tool
}

// Start subscribes to the request channel and serves until Close or ctx
// cancellation.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.sub = s.bus.Subscribe(ctx, requestChannel(s.name))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case msg, ok := <-s.sub.Messages():
				if !ok {
					return
				}
				s.wg.Add(1)
				go func(payload string) {
					defer s.wg.Done()
					s.handle(ctx, payload)
				}(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops serving. Idempotent.
func (s *Server) Close() {
	s.closed.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.sub != nil {
			s.sub.Close()
		}
	})
	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, payload string) {
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		s.respond(ctx, NewErrorResponse(nil, ErrCodeParseError, "parse error"))
		return
	}

	switch req.Method {
	case MethodInitialize:
		s.respond(ctx, NewResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
		}))
	case MethodInitialized:
		// Notification; no response.
	case MethodToolsList:
		s.respond(ctx, NewResponse(req.ID, ToolsListResult{Tools: s.describe()}))
	case MethodToolsCall:
		s.respond(ctx, s.call(ctx, &req))
	default:
		if len(req.ID) == 0 {
			return
		}
		s.respond(ctx, NewErrorResponse(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method))
	}
}

func (s *Server) describe() []ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		tool := s.tools[name]
		out = append(out, ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return out
}

func (s *Server) call(ctx context.Context, req *Request) *Response {
	params, err := DecodeParams(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params: "+err.Error())
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return NewResponse(req.ID, NewToolError("unknown tool: "+params.Name))
	}

	if len(params.Meta) > 0 {
		ctx = WithMeta(ctx, MetaFromMap(params.Meta))
	}

	result, err := s.execute(ctx, tool, params.Arguments)
	if err != nil {
		s.slog.Warn("toolrpc: tool failed", "server", s.name, "tool", params.Name, "error", err)
		return NewResponse(req.ID, NewToolError(err.Error()))
	}
	return NewResponse(req.ID, NewToolResult(result))
}

// execute guards against panicking tools; a panic becomes an isError
// result like any other failure.
func (s *Server) execute(ctx context.Context, tool Tool, args map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func (s *Server) respond(ctx context.Context, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.slog.Error("toolrpc: marshal response failed", "server", s.name, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, responseChannel(s.name), string(data)); err != nil {
		s.slog.Warn("toolrpc: publish response failed", "server", s.name, "error", err)
	}
}
