package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

func TestGetLastMessagesChronological(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := models.NewUserMessage("rm_"+string(rune('a'+i)), "conv1", "msg")
		msg.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := s.StoreMessage(ctx, msg); err != nil {
			t.Fatalf("StoreMessage: %v", err)
		}
	}

	last, err := s.GetLastMessages(ctx, "conv1", 3)
	if err != nil {
		t.Fatalf("GetLastMessages: %v", err)
	}
	if len(last) != 3 {
		t.Fatalf("len = %d, want 3", len(last))
	}
	if last[0].ID != "rm_c" || last[2].ID != "rm_e" {
		t.Fatalf("order = [%s %s %s], want chronological tail", last[0].ID, last[1].ID, last[2].ID)
	}
}

func TestGenerationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	gen := models.NewGeneration("rg_1", "conv1")
	if err := s.StoreGeneration(ctx, gen); err != nil {
		t.Fatalf("StoreGeneration: %v", err)
	}

	if err := s.UpdateGenerationStatus(ctx, "rg_1", models.GenerationStatusError, "boom"); err != nil {
		t.Fatalf("UpdateGenerationStatus: %v", err)
	}

	got, err := s.GetGeneration(ctx, "rg_1")
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.Status != models.GenerationStatusError || got.Error != "boom" {
		t.Fatalf("got status=%s error=%q", got.Status, got.Error)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped")
	}

	if _, err := s.GetGeneration(ctx, "rg_missing"); err != ports.ErrNotFound {
		t.Fatalf("GetGeneration(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpsertConversationKeepsTitle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.UpdateConversationTitle(ctx, "conv1", "Set By User", true); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}

	// A metadata-only upsert must not clobber the title.
	conv := &models.Conversation{ID: "conv1", MessageCount: 4, TotalTokens: 120}
	if err := s.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}

	got, err := s.GetConversation(ctx, "conv1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Set By User" || !got.TitleSetByUser {
		t.Fatalf("title = %q (setByUser=%v), want preserved", got.Title, got.TitleSetByUser)
	}
	if got.MessageCount != 4 {
		t.Fatalf("messageCount = %d, want 4", got.MessageCount)
	}
}

func TestGetConversationsRecencyAndPaging(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertConversation(ctx, &models.Conversation{ID: id}); err != nil {
			t.Fatalf("UpsertConversation: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, err := s.GetConversations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("recency order wrong: %+v", all)
	}

	page, err := s.GetConversations(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("page = %+v, want [b]", page)
	}
}
