package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redworks/red/internal/ports"
)

// RequestTimeout bounds every outgoing request.
const RequestTimeout = 30 * time.Second

// ErrClientClosed rejects calls on a disconnected client.
var ErrClientClosed = errors.New("tool client closed")

// Request ids are process-unique so clients sharing a response channel
// never claim each other's responses.
var nextRequestID atomic.Int64

// Client issues JSON-RPC requests to one tool server over the bus. A
// single pending-request map correlates responses by id; every request
// carries a 30-second timeout.
type Client struct {
	serverName string
	bus        ports.Bus

	mu      sync.Mutex
	pending map[int64]chan *Response
	closed  bool

	sub    ports.Subscription
	cancel context.CancelFunc

	serverInfo ServerInfo
	tools      []ToolDescriptor
}

// Connect subscribes to the server's response channel, runs the initialize
// handshake, and lists the server's tools.
func Connect(ctx context.Context, bus ports.Bus, serverName string) (*Client, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		serverName: serverName,
		bus:        bus,
		pending:    make(map[int64]chan *Response),
		cancel:     cancel,
	}
	c.sub = bus.Subscribe(subCtx, responseChannel(serverName))
	go c.readLoop()

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", serverName, err)
	}
	if err := c.listTools(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("list tools %s: %w", serverName, err)
	}
	return c, nil
}

// ServerName reports the connected server.
func (c *Client) ServerName() string {
	return c.serverName
}

// ServerInfo reports the handshake identity.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// Tools returns the advertised tool descriptors.
func (c *Client) Tools() []ToolDescriptor {
	return c.tools
}

// CallTool invokes a tool, threading the caller scope through _meta.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, meta CallMeta) (*CallToolResult, error) {
	params := ToolCallParams{
		Name:      name,
		Arguments: args,
		Meta:      meta.ToMap(),
	}
	raw, err := c.request(ctx, MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &result, nil
}

// Close rejects all pending requests and releases the subscription.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.cancel()
	if c.sub != nil {
		c.sub.Close()
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "red-orchestrator",
			"version": "1.0",
		},
	}
	raw, err := c.request(ctx, MethodInitialize, params)
	if err != nil {
		return err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	c.serverInfo = result.ServerInfo

	return c.notify(ctx, MethodInitialized, nil)
}

func (c *Client) listTools(ctx context.Context) error {
	raw, err := c.request(ctx, MethodToolsList, nil)
	if err != nil {
		return err
	}
	var result ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode tools list: %w", err)
	}
	c.tools = result.Tools
	return nil
}

func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestID.Add(1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.bus.Publish(ctx, requestChannel(c.serverName), string(data)); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, err
		}
		return raw, nil
	case <-timer.C:
		return nil, fmt.Errorf("Request timeout: %s", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	req := Request{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, requestChannel(c.serverName), string(data))
}

func (c *Client) readLoop() {
	for msg := range c.sub.Messages() {
		var resp Response
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			continue
		}
		if len(resp.ID) == 0 {
			continue
		}
		id, err := strconv.ParseInt(string(resp.ID), 10, 64)
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- &resp:
			default:
			}
		}
	}
}
