package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redworks/red/internal/adapters/membus"
	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

// holdingBus defers stream-channel publishes so a test can attach a
// subscriber in the window between a chunk's persist and its publish.
type holdingBus struct {
	*membus.Bus
	mu   sync.Mutex
	hold bool
	held []ports.BusMessage
}

func (b *holdingBus) Publish(ctx context.Context, channel, message string) error {
	b.mu.Lock()
	if b.hold && strings.HasPrefix(channel, "message:stream:") {
		b.held = append(b.held, ports.BusMessage{Channel: channel, Payload: message})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.Bus.Publish(ctx, channel, message)
}

func (b *holdingBus) setHold(hold bool) {
	b.mu.Lock()
	b.hold = hold
	b.mu.Unlock()
}

func (b *holdingBus) release(ctx context.Context) {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.hold = false
	b.mu.Unlock()
	for _, m := range held {
		_ = b.Bus.Publish(ctx, m.Channel, m.Payload)
	}
}

func collect(t *testing.T, ch <-chan models.StreamEvent, n int) []models.StreamEvent {
	t.Helper()
	var out []models.StreamEvent
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events: %+v", len(out), out)
		}
	}
	return out
}

func TestContentAccumulatesAndPublishes(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	p := NewPipeline(bus, nil)

	if err := p.StartMessage(ctx, "conv1", "rm_a"); err != nil {
		t.Fatal(err)
	}

	sub := bus.Subscribe(ctx, "message:stream:rm_a")
	defer sub.Close()

	for _, chunk := range []string{"Hel", "lo ", "there"} {
		if err := p.AppendContent(ctx, "rm_a", chunk); err != nil {
			t.Fatal(err)
		}
	}

	state, err := p.GetState(ctx, "rm_a")
	if err != nil {
		t.Fatal(err)
	}
	if state.Content != "Hello there" {
		t.Fatalf("content = %q", state.Content)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-sub.Messages():
		case <-time.After(time.Second):
			t.Fatalf("missing chunk %d on channel", i)
		}
	}
}

func TestThinkingStoredDisjointly(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")

	_ = p.AppendThinking(ctx, "rm_a", "reason")
	_ = p.AppendContent(ctx, "rm_a", "answer")

	state, _ := p.GetState(ctx, "rm_a")
	if state.Content != "answer" || state.Thinking != "reason" {
		t.Fatalf("state = %+v", state)
	}
}

func TestSubscribeUnknownMessage(t *testing.T) {
	p := NewPipeline(membus.New(), nil)
	if _, err := p.SubscribeToMessage(context.Background(), "rm_none"); err != ports.ErrNoStreamState {
		t.Fatalf("err = %v, want ErrNoStreamState", err)
	}
}

func TestReconnectReplay(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")

	// Three chunks land before the subscriber attaches.
	_ = p.AppendContent(ctx, "rm_a", "one ")
	_ = p.AppendContent(ctx, "rm_a", "two ")
	_ = p.AppendContent(ctx, "rm_a", "three")
	_ = p.SetStatus(ctx, "rm_a", "searching", "Searching the web")

	ch, err := p.SubscribeToMessage(ctx, "rm_a")
	if err != nil {
		t.Fatal(err)
	}

	events := collect(t, ch, 2)
	if events[0].Type != models.StreamEventInit || events[0].ExistingContent != "one two three" {
		t.Fatalf("init = %+v", events[0])
	}
	if events[1].Type != models.StreamEventStatus || events[1].Action != "searching" {
		t.Fatalf("restored status = %+v", events[1])
	}

	// Live events continue without duplicating the replayed content.
	_ = p.AppendContent(ctx, "rm_a", " four")
	_ = p.Complete(ctx, "rm_a", map[string]any{"finished": true})

	rest := collect(t, ch, 2)
	if rest[0].Type != models.StreamEventChunk || rest[0].Content != " four" {
		t.Fatalf("live chunk = %+v", rest[0])
	}
	if rest[1].Type != models.StreamEventComplete {
		t.Fatalf("terminal = %+v", rest[1])
	}

	if _, open := <-ch; open {
		t.Fatal("channel should close after complete")
	}
}

func TestReconnectDuringInFlightPublish(t *testing.T) {
	ctx := context.Background()
	bus := &holdingBus{Bus: membus.New()}
	p := NewPipeline(bus, nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")

	// The chunk is persisted, but its publish is still in flight when the
	// subscriber attaches: the snapshot already covers it, and the held
	// publish lands after the subscription opens.
	bus.setHold(true)
	_ = p.AppendContent(ctx, "rm_a", "hello")

	ch, err := p.SubscribeToMessage(ctx, "rm_a")
	if err != nil {
		t.Fatal(err)
	}
	bus.release(ctx)

	_ = p.AppendContent(ctx, "rm_a", " world")
	_ = p.Complete(ctx, "rm_a", nil)

	events := collect(t, ch, 3)
	if events[0].Type != models.StreamEventInit || events[0].ExistingContent != "hello" {
		t.Fatalf("init = %+v", events[0])
	}
	var live string
	for _, ev := range events[1:] {
		if ev.Type == models.StreamEventChunk {
			live += ev.Content
		}
	}
	if live != " world" {
		t.Fatalf("live content = %q, replayed chunk must not arrive twice", live)
	}
	if events[2].Type != models.StreamEventComplete {
		t.Fatalf("terminal = %+v", events[2])
	}
}

func TestSubscribeToTerminalState(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")
	_ = p.AppendContent(ctx, "rm_a", "done already")
	_ = p.Complete(ctx, "rm_a", nil)

	ch, err := p.SubscribeToMessage(ctx, "rm_a")
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, ch, 2)
	if events[0].Type != models.StreamEventInit {
		t.Fatalf("first = %+v", events[0])
	}
	if events[1].Type != models.StreamEventComplete {
		t.Fatalf("second = %+v", events[1])
	}
}

func TestFailEmitsError(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")
	_ = p.Fail(ctx, "rm_a", "llm exploded")

	ch, err := p.SubscribeToMessage(ctx, "rm_a")
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, ch, 1)
	if events[0].Type != models.StreamEventError || events[0].Error != "llm exploded" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestToolEventFanout(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	p := NewPipeline(bus, nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")

	toolCh := bus.Subscribe(ctx, "tool:event:rm_a")
	defer toolCh.Close()

	event := models.ToolEvent{
		Type:      models.ToolEventStart,
		ToolID:    "web_search_123",
		ToolType:  "web_search",
		ToolName:  "web_search",
		Timestamp: time.Now().UTC(),
	}
	if err := p.AddToolEvent(ctx, "rm_a", event); err != nil {
		t.Fatal(err)
	}

	select {
	case <-toolCh.Messages():
	case <-time.After(time.Second):
		t.Fatal("no event on tool:event channel")
	}

	state, _ := p.GetState(ctx, "rm_a")
	if len(state.ToolEvents) != 1 || state.ToolEvents[0].ToolID != "web_search_123" {
		t.Fatalf("state tool events = %+v", state.ToolEvents)
	}
}

func TestActiveSetLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)
	_ = p.StartMessage(ctx, "conv1", "rm_a")

	active, _ := p.ActiveMessages(ctx, "conv1")
	if len(active) != 1 || active[0] != "rm_a" {
		t.Fatalf("active = %v", active)
	}

	_ = p.Complete(ctx, "rm_a", nil)
	active, _ = p.ActiveMessages(ctx, "conv1")
	if len(active) != 0 {
		t.Fatalf("active after complete = %v", active)
	}
}

func TestReadyHandshake(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(membus.New(), nil)

	if err := p.MarkStreamReady(ctx, "rm_a"); err != nil {
		t.Fatal(err)
	}
	if !p.WaitStreamReady(ctx, "rm_a") {
		t.Fatal("WaitStreamReady should see the flag immediately")
	}
}

func TestReadyHandshakeTimesOutAndProceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p := NewPipeline(membus.New(), nil)

	if p.WaitStreamReady(ctx, "rm_never") {
		t.Fatal("WaitStreamReady should report false without the flag")
	}
}
