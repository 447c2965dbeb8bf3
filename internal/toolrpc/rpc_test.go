package toolrpc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redworks/red/internal/adapters/membus"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes the input back" }
func (echoTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	return "echo: " + text, nil
}

type failTool struct{}

func (failTool) Name() string                { return "fail" }
func (failTool) Description() string         { return "Always fails" }
func (failTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (failTool) Execute(context.Context, map[string]any) (string, error) {
	return "", errors.New("deliberate failure")
}

type metaTool struct{}

func (metaTool) Name() string                { return "whoami" }
func (metaTool) Description() string         { return "Reports the caller scope" }
func (metaTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (metaTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	meta := MetaFromContext(ctx)
	return meta.ConversationID + "/" + meta.GenerationID + "/" + meta.MessageID, nil
}

func startServer(t *testing.T, bus *membus.Bus, tools ...Tool) *Server {
	t.Helper()
	srv := NewServer("test", "1.0", bus, nil)
	for _, tool := range tools {
		srv.Register(tool)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func TestHandshakeAndToolsList(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, echoTool{}, failTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if client.ServerInfo().Name != "test" {
		t.Fatalf("serverInfo = %+v", client.ServerInfo())
	}
	tools := client.Tools()
	if len(tools) != 2 || tools[0].Name != "echo" || tools[1].Name != "fail" {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].InputSchema["type"] != "object" {
		t.Fatalf("schema = %+v", tools[0].InputSchema)
	}
}

func TestCallTool(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, echoTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	result, err := client.CallTool(ctx, "echo", map[string]any{"text": "hi"}, CallMeta{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected isError: %+v", result)
	}
	if result.Text() != "echo: hi" {
		t.Fatalf("text = %q", result.Text())
	}
}

func TestToolErrorBecomesIsError(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, failTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	result, err := client.CallTool(ctx, "fail", nil, CallMeta{})
	if err != nil {
		t.Fatalf("CallTool should not fail at the protocol level: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected isError result")
	}
	if !strings.Contains(result.Text(), "deliberate failure") {
		t.Fatalf("text = %q", result.Text())
	}
}

func TestUnknownToolIsError(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, echoTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	result, err := client.CallTool(ctx, "missing", nil, CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Text(), "unknown tool") {
		t.Fatalf("result = %+v", result)
	}
}

func TestMetaTravelsToServer(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, metaTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	meta := CallMeta{ConversationID: "conv1", GenerationID: "rg_1", MessageID: "rm_1"}
	result, err := client.CallTool(ctx, "whoami", nil, meta)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text() != "conv1/rg_1/rm_1" {
		t.Fatalf("meta round trip = %q", result.Text())
	}
}

func TestUnknownMethodError(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	startServer(t, bus, echoTool{})

	client, err := Connect(ctx, bus, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.request(ctx, "bogus/method", nil)
	if err == nil || !strings.Contains(err.Error(), "-32601") {
		t.Fatalf("err = %v, want method-not-found", err)
	}
}

func TestConnectWithoutServerTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	bus := membus.New()

	_, err := Connect(ctx, bus, "nobody")
	if err == nil {
		t.Fatal("Connect should fail with no server listening")
	}
}

func TestCloseRejectsPending(t *testing.T) {
	bus := membus.New()
	c := &Client{
		serverName: "test",
		bus:        bus,
		pending:    make(map[int64]chan *Response),
		cancel:     func() {},
	}
	c.sub = bus.Subscribe(context.Background(), "mcp:server:test:response")
	go c.readLoop()

	done := make(chan error, 1)
	go func() {
		_, err := c.request(context.Background(), "tools/list", nil)
		done <- err
	}()

	// Give the request a moment to register, then close.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.pending)
		c.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Close()

	if err := <-done; !errors.Is(err, ErrClientClosed) {
		t.Fatalf("err = %v, want ErrClientClosed", err)
	}
}
