package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/redworks/red/internal/adapters/id"
	"github.com/redworks/red/internal/adapters/membus"
	"github.com/redworks/red/internal/adapters/memstore"
	"github.com/redworks/red/internal/background"
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/engine"
	"github.com/redworks/red/internal/generation"
	"github.com/redworks/red/internal/graph"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
	"github.com/redworks/red/internal/toolregistry"
	"github.com/redworks/red/internal/toolservers"
)

type scriptedLLM struct {
	mu            sync.Mutex
	chatReplies   []string
	streamScripts [][]ports.LLMStreamChunk
}

func (l *scriptedLLM) Chat(context.Context, []ports.LLMMessage, *ports.LLMOptions) (*ports.LLMResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.chatReplies) == 0 {
		return nil, errors.New("no scripted chat reply")
	}
	reply := l.chatReplies[0]
	l.chatReplies = l.chatReplies[1:]
	return &ports.LLMResponse{Content: reply}, nil
}

func (l *scriptedLLM) ChatStream(context.Context, []ports.LLMMessage, *ports.LLMOptions) (<-chan ports.LLMStreamChunk, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.streamScripts) == 0 {
		return nil, errors.New("no scripted stream")
	}
	script := l.streamScripts[0]
	l.streamScripts = l.streamScripts[1:]
	ch := make(chan ports.LLMStreamChunk, len(script)+1)
	for _, chunk := range script {
		ch <- chunk
	}
	ch <- ports.LLMStreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func chunksOf(text string) []ports.LLMStreamChunk {
	var chunks []ports.LLMStreamChunk
	for len(text) > 0 {
		n := 4
		if n > len(text) {
			n = len(text)
		}
		chunks = append(chunks, ports.LLMStreamChunk{Content: text[:n]})
		text = text[n:]
	}
	return chunks
}

type quarterTokenizer struct{}

func (quarterTokenizer) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

type apiFixture struct {
	server      *httptest.Server
	generations *generation.Registry
}

func newAPIFixture(t *testing.T, llm *scriptedLLM, apiKey string) *apiFixture {
	t.Helper()
	ctx := context.Background()
	bus := membus.New()
	store := memstore.New()
	ids := id.New()
	mem := memory.NewManager(bus, store, quarterTokenizer{}, nil, nil, memory.Options{})
	pipeline := stream.NewPipeline(bus, nil)
	registry := toolregistry.New(bus, pipeline, nil)
	generations := generation.NewRegistry(bus, store, ids, nil, nil)

	contextSrv := toolservers.NewContextServer(bus, mem, store, ids, nil)
	if err := contextSrv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(contextSrv.Close)
	if err := registry.RegisterServer(ctx, "context"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(registry.Disconnect)

	g := graph.New(llm, registry, mem, pipeline, nil, nil, graph.Options{Model: "Red"})
	tasks := background.NewTasks(mem, &scriptedLLM{}, nil, nil, "Red")
	eng := engine.New(registry, generations, mem, store, pipeline, g, tasks, nil, nil, ids, engine.Options{Model: "Red"})

	api := NewServer(eng, pipeline, generations, nil, nil, Options{APIKey: apiKey, Model: "Red", Version: "test"})
	ts := httptest.NewServer(api.Router())
	t.Cleanup(ts.Close)
	return &apiFixture{server: ts, generations: generations}
}

func directPlan() string {
	return `{"steps":[{"type":"respond","purpose":"direct"}]}`
}

func completionBody(stream bool) []byte {
	body, _ := json.Marshal(map[string]any{
		"model":    "Red",
		"messages": []map[string]string{{"role": "user", "content": "Say hello in one sentence"}},
		"stream":   stream,
	})
	return body
}

func postCompletion(t *testing.T, f *apiFixture, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, &scriptedLLM{}, "secret")

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "Red AI API" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t, &scriptedLLM{}, "secret")

	resp := postCompletion(t, f, completionBody(false), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var errBody apiError
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatal(err)
	}
	if errBody.Error.Code != "missing_api_key" {
		t.Fatalf("code = %q", errBody.Error.Code)
	}

	resp = postCompletion(t, f, completionBody(false), map[string]string{"Authorization": "Bearer wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errBody = apiError{}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatal(err)
	}
	if errBody.Error.Code != "invalid_api_key" {
		t.Fatalf("code = %q", errBody.Error.Code)
	}
}

func TestNonStreamingTurn(t *testing.T) {
	llm := &scriptedLLM{
		chatReplies:   []string{directPlan()},
		streamScripts: [][]ports.LLMStreamChunk{chunksOf("Hello, nice to meet you.")},
	}
	f := newAPIFixture(t, llm, "secret")

	resp := postCompletion(t, f, completionBody(false), map[string]string{"Authorization": "Bearer secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		t.Fatal(err)
	}
	if len(completion.Choices) != 1 {
		t.Fatalf("choices = %+v", completion.Choices)
	}
	choice := completion.Choices[0]
	if choice.Message.Role != "assistant" || choice.FinishReason != "stop" {
		t.Fatalf("choice = %+v", choice)
	}
	if choice.Message.Content != "Hello, nice to meet you." {
		t.Fatalf("content = %q", choice.Message.Content)
	}

	conversationID := resp.Header.Get("X-Conversation-Id")
	if conversationID == "" {
		t.Fatal("missing conversation header")
	}
	gen, err := f.generations.GetGeneration(context.Background(), completion.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gen.ConversationID != conversationID || gen.Status != models.GenerationStatusCompleted {
		t.Fatalf("generation = %+v", gen)
	}
}

type sseFrame struct {
	done  bool
	chunk chatCompletionChunk
}

func readSSE(t *testing.T, resp *http.Response) []sseFrame {
	t.Helper()
	var frames []sseFrame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			frames = append(frames, sseFrame{done: true})
			continue
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		frames = append(frames, sseFrame{chunk: chunk})
	}
	return frames
}

func TestStreamingTurnWithThinking(t *testing.T) {
	llm := &scriptedLLM{
		chatReplies:   []string{directPlan()},
		streamScripts: [][]ports.LLMStreamChunk{chunksOf("<think>pondering deeply</think>Hello.")},
	}
	f := newAPIFixture(t, llm, "secret")

	resp := postCompletion(t, f, completionBody(true), map[string]string{"Authorization": "Bearer secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	frames := readSSE(t, resp)
	if len(frames) < 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].chunk.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("first frame = %+v", frames[0].chunk)
	}
	if !frames[len(frames)-1].done {
		t.Fatal("stream not terminated by [DONE]")
	}

	var content, thinking string
	var sawStop bool
	for _, frame := range frames[1:] {
		if frame.done {
			continue
		}
		choice := frame.chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason == "stop" {
			sawStop = true
			continue
		}
		content += choice.Delta.Content
		thinking += choice.Delta.ReasoningContent
	}
	if !sawStop {
		t.Fatal("no finish_reason stop frame")
	}
	if content != "Hello." {
		t.Fatalf("content = %q", content)
	}
	if !strings.Contains(thinking, "pondering deeply") {
		t.Fatalf("thinking = %q", thinking)
	}
}

func TestConcurrentGenerationRejected(t *testing.T) {
	f := newAPIFixture(t, &scriptedLLM{}, "secret")
	if _, err := f.generations.StartGeneration(context.Background(), "conv1", ""); err != nil {
		t.Fatal(err)
	}

	resp := postCompletion(t, f, completionBody(false), map[string]string{
		"Authorization":     "Bearer secret",
		"X-Conversation-Id": "conv1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var errBody apiError
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errBody.Error.Message, "generation is already in progress") {
		t.Fatalf("message = %q", errBody.Error.Message)
	}
}

func TestValidation(t *testing.T) {
	f := newAPIFixture(t, &scriptedLLM{}, "")

	body, _ := json.Marshal(map[string]any{"model": "Red", "messages": []any{}})
	resp := postCompletion(t, f, body, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = postCompletion(t, f, []byte("{not json"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestModels(t *testing.T) {
	f := newAPIFixture(t, &scriptedLLM{}, "")

	resp, err := http.Get(f.server.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != "Red" {
		t.Fatalf("list = %+v", list)
	}

	resp, err = http.Get(f.server.URL + "/models/Red")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.server.URL + "/models/other")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
