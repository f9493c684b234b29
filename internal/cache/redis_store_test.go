package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), 30*time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), 30*time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", time.Minute); err == nil {
		t.Error("expected error for malformed redis url, got nil")
	}
}

func TestSaveAndFetchDraft(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "doc-1", "hello world", "user-1"); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	state, ttl, found, err := store.FetchDraft(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchDraft failed: %v", err)
	}
	if !found {
		t.Fatal("expected draft to be found")
	}
	if state.Content != "hello world" {
		t.Errorf("expected content %q, got %q", "hello world", state.Content)
	}
	if state.SavedBy != "user-1" {
		t.Errorf("expected saved_by user-1, got %s", state.SavedBy)
	}
	if ttl <= 0 || ttl > 30*60 {
		t.Errorf("expected ttl in (0, 1800], got %d", ttl)
	}
}

func TestFetchDraftMissing(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	_, ttl, found, err := store.FetchDraft(ctx, "doc-none")
	if err != nil {
		t.Fatalf("FetchDraft failed: %v", err)
	}
	if found {
		t.Error("expected no draft for unknown document")
	}
	if ttl != -1 {
		t.Errorf("expected ttl -1 for missing draft, got %d", ttl)
	}
}

func TestSaveDraftResetsTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "doc-1", "v1", "user-1"); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	// Burn most of the TTL, then save again.
	s.FastForward(29 * time.Minute)

	if err := store.SaveDraft(ctx, "doc-1", "v2", "user-2"); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	state, ttl, found, err := store.FetchDraft(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchDraft failed: %v", err)
	}
	if !found {
		t.Fatal("expected draft to be found")
	}
	if state.Content != "v2" {
		t.Errorf("expected content v2, got %q", state.Content)
	}
	if ttl <= 25*60 {
		t.Errorf("expected ttl reset near 1800s, got %d", ttl)
	}
}

func TestDraftExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "doc-1", "short lived", "user-1"); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	s.FastForward(31 * time.Minute)

	_, _, found, err := store.FetchDraft(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchDraft failed: %v", err)
	}
	if found {
		t.Error("expected draft to have expired")
	}
}

func TestClearDraft(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "doc-1", "content", "user-1"); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if err := store.ClearDraft(ctx, "doc-1"); err != nil {
		t.Fatalf("ClearDraft failed: %v", err)
	}

	_, _, found, err := store.FetchDraft(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchDraft failed: %v", err)
	}
	if found {
		t.Error("expected draft to be cleared")
	}

	// Clearing again is a no-op.
	if err := store.ClearDraft(ctx, "doc-1"); err != nil {
		t.Errorf("ClearDraft for missing draft failed: %v", err)
	}
}

func TestPresenceRoster(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.AddPresence(ctx, "doc-1", "user-b", "Bob"); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}
	if err := store.AddPresence(ctx, "doc-1", "user-a", "Alice"); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}

	roster, err := store.Roster(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(roster))
	}
	if roster[0].UserID != "user-a" || roster[1].UserID != "user-b" {
		t.Errorf("expected roster sorted by user id, got %v", roster)
	}
	if roster[0].Nickname != "Alice" {
		t.Errorf("expected nickname Alice, got %s", roster[0].Nickname)
	}

	if err := store.RemovePresence(ctx, "doc-1", "user-a"); err != nil {
		t.Fatalf("RemovePresence failed: %v", err)
	}

	roster, err = store.Roster(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "user-b" {
		t.Errorf("expected only user-b after removal, got %v", roster)
	}
}

func TestPresenceIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.AddPresence(ctx, "doc-1", "user-1", "One"); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}
	if err := store.AddPresence(ctx, "doc-2", "user-2", "Two"); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}

	roster, err := store.Roster(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "user-1" {
		t.Errorf("expected doc-1 roster to hold only user-1, got %v", roster)
	}
}

func TestChatHistory(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.AppendChat(ctx, "doc-1", []byte(`{"type":"CHAT","content":"first"}`)); err != nil {
		t.Fatalf("AppendChat failed: %v", err)
	}
	if err := store.AppendChat(ctx, "doc-1", []byte(`{"type":"CHAT","content":"second"}`)); err != nil {
		t.Fatalf("AppendChat failed: %v", err)
	}

	frames, err := store.ChatHistory(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ChatHistory failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 chat frames, got %d", len(frames))
	}
	if string(frames[0]) != `{"type":"CHAT","content":"first"}` {
		t.Errorf("expected oldest frame first, got %s", frames[0])
	}
}

func TestChatHistoryTrimmed(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < chatHistoryLimit+10; i++ {
		if err := store.AppendChat(ctx, "doc-1", []byte{'a' + byte(i%26)}); err != nil {
			t.Fatalf("AppendChat failed: %v", err)
		}
	}

	frames, err := store.ChatHistory(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ChatHistory failed: %v", err)
	}
	if len(frames) != chatHistoryLimit {
		t.Errorf("expected history trimmed to %d, got %d", chatHistoryLimit, len(frames))
	}
}

func TestChatHistoryEmpty(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	frames, err := store.ChatHistory(context.Background(), "doc-none")
	if err != nil {
		t.Fatalf("ChatHistory failed: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected empty history, got %d frames", len(frames))
	}
}
