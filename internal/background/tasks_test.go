package background

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redworks/red/internal/adapters/membus"
	"github.com/redworks/red/internal/adapters/memstore"
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
)

type fixedLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts [][]ports.LLMMessage
}

func (l *fixedLLM) Chat(_ context.Context, messages []ports.LLMMessage, _ *ports.LLMOptions) (*ports.LLMResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.prompts = append(l.prompts, messages)
	if l.err != nil {
		return nil, l.err
	}
	return &ports.LLMResponse{Content: l.reply}, nil
}

func (l *fixedLLM) ChatStream(context.Context, []ports.LLMMessage, *ports.LLMOptions) (<-chan ports.LLMStreamChunk, error) {
	return nil, errors.New("not scripted")
}

type quarterTokenizer struct{}

func (quarterTokenizer) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

func newTasksFixture(opts memory.Options, llm *fixedLLM) (*Tasks, *memory.Manager) {
	bus := membus.New()
	mem := memory.NewManager(bus, memstore.New(), quarterTokenizer{}, nil, nil, opts)
	return NewTasks(mem, llm, nil, nil, "Red"), mem
}

func addMessage(t *testing.T, mem *memory.Manager, convID string, i int, role models.MessageRole, content string) {
	t.Helper()
	msg := models.NewMessage(fmt.Sprintf("rm_%d", i), convID, role, content)
	if err := mem.AddMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
}

func TestTrailingSummarize(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{reply: "They discussed many things."}
	// Tiny budget so a handful of messages exceeds it.
	tasks, mem := newTasksFixture(memory.Options{MaxContextTokens: 20, SummaryCushionTokens: 1}, llm)

	for i := 0; i < 6; i++ {
		role := models.MessageRoleUser
		if i%2 == 1 {
			role = models.MessageRoleAssistant
		}
		addMessage(t, mem, "conv1", i, role, "this message is long enough to cost tokens")
	}

	if err := tasks.TrailingSummarize(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	summary, err := mem.GetTrailingSummary(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if summary != "They discussed many things." {
		t.Fatalf("summary = %q", summary)
	}

	meta, err := mem.GetMetadata(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.NeedsTrailingSummaryGeneration || meta.ContentToSummarize != "" {
		t.Fatalf("staged state not cleared: %+v", meta)
	}

	// The staged excerpt reached the LLM.
	if llm.calls != 1 || !strings.Contains(llm.prompts[0][1].Content, "this message is long enough") {
		t.Fatalf("llm calls=%d prompts=%+v", llm.calls, llm.prompts)
	}
}

func TestTrailingSummarizeNoopUnderBudget(t *testing.T) {
	llm := &fixedLLM{reply: "unused"}
	tasks, mem := newTasksFixture(memory.Options{}, llm)
	addMessage(t, mem, "conv1", 0, models.MessageRoleUser, "short")

	if err := tasks.TrailingSummarize(context.Background(), "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatalf("llm called %d times for an under-budget conversation", llm.calls)
	}
}

func TestExecutiveSummaryThreshold(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{reply: "Overview of everything."}
	tasks, mem := newTasksFixture(memory.Options{}, llm)

	addMessage(t, mem, "conv1", 0, models.MessageRoleUser, "q1")
	addMessage(t, mem, "conv1", 1, models.MessageRoleAssistant, "a1")
	addMessage(t, mem, "conv1", 2, models.MessageRoleUser, "q2")
	addMessage(t, mem, "conv1", 3, models.MessageRoleAssistant, "a2")

	if err := tasks.ExecutiveSummarize(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatal("executive summary ran below the reply threshold")
	}

	addMessage(t, mem, "conv1", 4, models.MessageRoleUser, "q3")
	addMessage(t, mem, "conv1", 5, models.MessageRoleAssistant, "a3")

	if err := tasks.ExecutiveSummarize(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	summary, err := mem.GetExecutiveSummary(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if summary != "Overview of everything." {
		t.Fatalf("summary = %q", summary)
	}
}

func TestTitleGeneration(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{reply: "Weather Chat About Berlin Today Extended"}
	tasks, mem := newTasksFixture(memory.Options{}, llm)

	addMessage(t, mem, "conv1", 0, models.MessageRoleUser, "weather?")
	addMessage(t, mem, "conv1", 1, models.MessageRoleAssistant, "sunny")

	if err := tasks.MaybeGenerateTitle(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	meta, err := mem.GetMetadata(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	// Five-word cap applied.
	if meta.Title != "Weather Chat About Berlin Today" {
		t.Fatalf("title = %q", meta.Title)
	}
}

func TestTitleSkippedOffTrigger(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{reply: "A Title"}
	tasks, mem := newTasksFixture(memory.Options{}, llm)

	addMessage(t, mem, "conv1", 0, models.MessageRoleUser, "only one message")
	if err := tasks.MaybeGenerateTitle(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatal("title generated off the 2nd/6th message trigger")
	}
}

func TestTitleRespectsUserTitle(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{reply: "Generated Title"}
	tasks, mem := newTasksFixture(memory.Options{}, llm)

	addMessage(t, mem, "conv1", 0, models.MessageRoleUser, "q")
	addMessage(t, mem, "conv1", 1, models.MessageRoleAssistant, "a")
	if err := mem.SetTitle(ctx, "conv1", "My Own Title", true); err != nil {
		t.Fatal(err)
	}

	if err := tasks.MaybeGenerateTitle(ctx, "conv1", "rg_1"); err != nil {
		t.Fatal(err)
	}
	meta, _ := mem.GetMetadata(ctx, "conv1")
	if meta.Title != "My Own Title" {
		t.Fatalf("title = %q", meta.Title)
	}
	if llm.calls != 0 {
		t.Fatal("llm called despite user title")
	}
}

func TestRunPostReplySurvivesFailures(t *testing.T) {
	llm := &fixedLLM{err: errors.New("llm down")}
	tasks, mem := newTasksFixture(memory.Options{MaxContextTokens: 20, SummaryCushionTokens: 1}, llm)

	for i := 0; i < 6; i++ {
		role := models.MessageRoleUser
		if i%2 == 1 {
			role = models.MessageRoleAssistant
		}
		addMessage(t, mem, "conv1", i, role, "this message is long enough to cost tokens")
	}

	// Must not panic or abort on LLM failure.
	tasks.RunPostReply(context.Background(), "conv1", "rg_1")
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()

	h := NewHeartbeat(bus, "node-1", nil)
	h.interval = 10 * time.Millisecond
	h.Start(ctx)

	nodes, err := GetActiveNodes(ctx, bus)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0] != "node-1" {
		t.Fatalf("nodes = %v", nodes)
	}

	h.Stop(ctx)
	h.Stop(ctx) // idempotent

	nodes, err = GetActiveNodes(ctx, bus)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Fatalf("nodes after stop = %v", nodes)
	}
}
