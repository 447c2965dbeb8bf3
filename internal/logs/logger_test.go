package logs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redworks/red/internal/adapters/id"
	"github.com/redworks/red/internal/adapters/membus"
	"github.com/redworks/red/internal/adapters/memstore"
	"github.com/redworks/red/internal/domain/models"
)

func TestLogWritesKeyListsAndChannels(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	l := New(bus, id.New(), nil)

	all := bus.Subscribe(ctx, ChannelAll)
	defer all.Close()
	gen := bus.Subscribe(ctx, "logs:generation:rg_1")
	defer gen.Close()

	l.Entry(ctx, models.LogLevelInfo, models.LogCategoryGeneration, "Generation started", "rg_1", "conv1", nil)

	ids, err := bus.LRange(ctx, "generation:rg_1:logs", 0, -1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("generation log list = %v, %v", ids, err)
	}
	convIDs, _ := bus.LRange(ctx, "conversation:conv1:logs", 0, -1)
	if len(convIDs) != 1 || convIDs[0] != ids[0] {
		t.Fatalf("conversation log list = %v", convIDs)
	}

	raw, err := bus.Get(ctx, "log:"+ids[0])
	if err != nil {
		t.Fatalf("Get log: %v", err)
	}
	var entry models.LogEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Message != "Generation started" || entry.Level != models.LogLevelInfo {
		t.Fatalf("entry = %+v", entry)
	}

	select {
	case msg := <-all.Messages():
		if msg.Channel != ChannelAll {
			t.Fatalf("channel = %s", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("no message on logs:all")
	}
	select {
	case <-gen.Messages():
	case <-time.After(time.Second):
		t.Fatal("no message on logs:generation:rg_1")
	}
}

func TestPersistentFlushOnBatchSize(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	store := memstore.New()
	l := NewPersistent(bus, store, id.New(), nil)
	defer l.Close(ctx)

	for i := 0; i < flushBatchSize; i++ {
		l.Info(ctx, models.LogCategorySystem, "entry", "", "")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.Logs()) >= flushBatchSize {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store has %d logs, want %d", len(store.Logs()), flushBatchSize)
}

func TestCloseDrainsBatch(t *testing.T) {
	ctx := context.Background()
	bus := membus.New()
	store := memstore.New()
	l := NewPersistent(bus, store, id.New(), nil)

	l.Info(ctx, models.LogCategorySystem, "one", "", "")
	l.Close(ctx)

	if len(store.Logs()) != 1 {
		t.Fatalf("store has %d logs, want 1", len(store.Logs()))
	}
}

func TestSubscribeToGenerationReplaysThenStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := membus.New()
	l := New(bus, id.New(), nil)

	// Mark the generation as active so the subscription stays open.
	gen := models.NewGeneration("rg_sub", "conv1")
	raw, _ := json.Marshal(gen)
	_ = bus.Set(ctx, "generation:rg_sub", string(raw), 0)

	l.Info(ctx, models.LogCategoryGeneration, "first", "rg_sub", "")

	ch, err := l.SubscribeToGeneration(ctx, "rg_sub")
	if err != nil {
		t.Fatalf("SubscribeToGeneration: %v", err)
	}

	select {
	case entry := <-ch:
		if entry.Message != "first" {
			t.Fatalf("replayed = %q, want first", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no replayed entry")
	}

	l.Info(ctx, models.LogCategoryGeneration, "second", "rg_sub", "")
	select {
	case entry := <-ch:
		if entry.Message != "second" {
			t.Fatalf("live = %q, want second", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no live entry")
	}
}

func TestStripColors(t *testing.T) {
	in := "<red>failed</red> while <dim>retrying</dim> <cyan>web_search</cyan>"
	want := "failed while retrying web_search"
	if got := StripColors(in); got != want {
		t.Fatalf("StripColors = %q, want %q", got, want)
	}
}
