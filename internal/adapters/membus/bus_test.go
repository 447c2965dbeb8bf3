package membus

import (
	"context"
	"testing"
	"time"

	"github.com/redworks/red/internal/ports"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Get(ctx, "missing"); err != ports.ErrNotFound {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := b.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := b.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("Get(k) = %q, %v", v, err)
	}

	if err := b.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := b.Get(ctx, "k"); err != ports.ErrNotFound {
		t.Fatalf("Get after Del = %v, want ErrNotFound", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	b.nowFunc = func() time.Time { return now }

	if err := b.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := b.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := b.Get(ctx, "k"); err != ports.ErrNotFound {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestExpireOnExistingKey(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	b.nowFunc = func() time.Time { return now }

	if err := b.RPush(ctx, "list", "a"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	if err := b.Expire(ctx, "list", time.Second); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	now = now.Add(2 * time.Second)
	n, err := b.LLen(ctx, "list")
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("LLen after expiry = %d, want 0", n)
	}
}

func TestListOps(t *testing.T) {
	ctx := context.Background()
	b := New()

	if err := b.RPush(ctx, "l", "a", "b", "c", "d"); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	all, err := b.LRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(all) != 4 || all[0] != "a" || all[3] != "d" {
		t.Fatalf("LRange(0,-1) = %v", all)
	}

	tail, err := b.LRange(ctx, "l", -2, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(tail) != 2 || tail[0] != "c" || tail[1] != "d" {
		t.Fatalf("LRange(-2,-1) = %v", tail)
	}

	if err := b.LTrim(ctx, "l", -2, -1); err != nil {
		t.Fatalf("LTrim: %v", err)
	}
	n, _ := b.LLen(ctx, "l")
	if n != 2 {
		t.Fatalf("LLen after LTrim = %d, want 2", n)
	}
	kept, _ := b.LRange(ctx, "l", 0, -1)
	if kept[0] != "c" || kept[1] != "d" {
		t.Fatalf("kept = %v, want [c d]", kept)
	}
}

func TestHashOps(t *testing.T) {
	ctx := context.Background()
	b := New()

	if err := b.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	v, err := b.HGet(ctx, "h", "a")
	if err != nil || v != "1" {
		t.Fatalf("HGet(a) = %q, %v", v, err)
	}
	if _, err := b.HGet(ctx, "h", "zzz"); err != ports.ErrNotFound {
		t.Fatalf("HGet(zzz) = %v, want ErrNotFound", err)
	}

	all, err := b.HGetAll(ctx, "h")
	if err != nil || len(all) != 2 {
		t.Fatalf("HGetAll = %v, %v", all, err)
	}

	if err := b.HDel(ctx, "h", "a"); err != nil {
		t.Fatalf("HDel: %v", err)
	}
	if _, err := b.HGet(ctx, "h", "a"); err != ports.ErrNotFound {
		t.Fatalf("HGet after HDel = %v, want ErrNotFound", err)
	}
}

func TestSetOps(t *testing.T) {
	ctx := context.Background()
	b := New()

	if err := b.SAdd(ctx, "s", "x", "y", "x"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	members, err := b.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "x" || members[1] != "y" {
		t.Fatalf("SMembers = %v", members)
	}

	if err := b.SRem(ctx, "s", "x"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	members, _ = b.SMembers(ctx, "s")
	if len(members) != 1 || members[0] != "y" {
		t.Fatalf("SMembers after SRem = %v", members)
	}
}

func TestKeysPattern(t *testing.T) {
	ctx := context.Background()
	b := New()

	_ = b.Set(ctx, "nodes:active:n1", "1", 0)
	_ = b.Set(ctx, "nodes:active:n2", "1", 0)
	_ = b.Set(ctx, "other", "1", 0)

	keys, err := b.Keys(ctx, "nodes:active:*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys = %v, want 2 matches", keys)
	}
}

func TestPublishSubscribeOrdering(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub := b.Subscribe(ctx, "ch")
	defer sub.Close()

	for _, m := range []string{"one", "two", "three"} {
		if err := b.Publish(ctx, "ch", m); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	want := []string{"one", "two", "three"}
	for i, w := range want {
		select {
		case got := <-sub.Messages():
			if got.Payload != w {
				t.Fatalf("message %d = %q, want %q", i, got.Payload, w)
			}
			if got.Channel != "ch" {
				t.Fatalf("channel = %q, want ch", got.Channel)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestPublishAfterCloseDropsSilently(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub := b.Subscribe(ctx, "ch")
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// No subscriber left; publish must not block or panic.
	if err := b.Publish(ctx, "ch", "late"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Fatal("expected closed messages channel")
	}
}

func TestSubscribeMultipleChannels(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub := b.Subscribe(ctx, "a", "b")
	defer sub.Close()

	_ = b.Publish(ctx, "a", "1")
	_ = b.Publish(ctx, "b", "2")

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-sub.Messages():
			seen[m.Channel] = m.Payload
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	if seen["a"] != "1" || seen["b"] != "2" {
		t.Fatalf("seen = %v", seen)
	}
}
