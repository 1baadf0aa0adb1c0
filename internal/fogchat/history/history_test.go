package history_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fogmoe/fogchat/internal/fogchat/history"
	"github.com/fogmoe/fogchat/internal/fogchat/store"
)

func newTestHistory(t *testing.T, cfg history.Config) *history.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return history.NewStore(s.DB(), cfg, nil)
}

func turn(role, content string) history.Turn {
	return history.Turn{Role: role, Content: content}
}

func TestGet_EmptyConversation(t *testing.T) {
	h := newTestHistory(t, history.Config{})

	rec, err := h.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("Get for unknown conversation: got %+v, want nil", rec)
	}
}

func TestAppendThenGet(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	err := h.Append(ctx, 1, []history.Turn{
		turn("user", "hello"),
		turn("assistant", "hi there"),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || len(rec.Turns) != 2 {
		t.Fatalf("Get returned %+v, want 2 turns", rec)
	}
	if rec.Turns[0].Content != "hello" || rec.Turns[1].Content != "hi there" {
		t.Errorf("turn contents wrong: %+v", rec.Turns)
	}
}

func TestAppend_UpdatesLatestRecordInPlace(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "one")}); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := h.Append(ctx, 1, []history.Turn{turn("user", "two")}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Turns) != 2 {
		t.Fatalf("got %d turns, want 2 (appends must accumulate)", len(rec.Turns))
	}
}

func TestAppend_OverflowResetsToNewTurns(t *testing.T) {
	// Small ceiling so the test does not need 800k characters; the policy is
	// identical at any ceiling.
	h := newTestHistory(t, history.Config{CharCeiling: 100})
	ctx := context.Background()

	big := strings.Repeat("a", 90)
	if err := h.Append(ctx, 1, []history.Turn{turn("user", big)}); err != nil {
		t.Fatalf("Append big: %v", err)
	}

	fresh := []history.Turn{
		turn("user", strings.Repeat("b", 20)),
		turn("assistant", "ok"),
	}
	if err := h.Append(ctx, 1, fresh); err != nil {
		t.Fatalf("Append overflowing: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Prior turns discarded wholesale; only the new turns survive.
	if len(rec.Turns) != 2 {
		t.Fatalf("got %d turns after overflow, want exactly the 2 new turns", len(rec.Turns))
	}
	if rec.Turns[0].Content != fresh[0].Content || rec.Turns[1].Content != "ok" {
		t.Errorf("stored history after overflow = %+v, want only the new turns", rec.Turns)
	}
}

func TestAppend_FiltersProbes(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	err := h.Append(ctx, 1, []history.Turn{
		turn("user", "ping"),
		turn("assistant", "PONG"),
		turn("user", "real question"),
		turn("assistant", "real answer"),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Turns) != 2 {
		t.Fatalf("got %d turns, want 2 (probes must be excluded)", len(rec.Turns))
	}
	for _, tu := range rec.Turns {
		if history.IsProbe(tu.Content) {
			t.Errorf("probe message %q present in stored history", tu.Content)
		}
	}
}

func TestAppend_OnlyProbesIsNoOp(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "  Ping "), turn("assistant", "pong")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("probe-only append created a record: %+v", rec)
	}
}

func TestGet_ReflectsAppendDespiteWarmCache(t *testing.T) {
	h := newTestHistory(t, history.Config{CacheTTL: time.Hour})
	ctx := context.Background()

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "first")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Warm the cache.
	if _, err := h.Get(ctx, 1); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "second")}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get after append: %v", err)
	}
	if len(rec.Turns) != 2 {
		t.Errorf("cached pre-append snapshot served after write: got %d turns, want 2", len(rec.Turns))
	}
}

func TestGet_ReturnsCopies(t *testing.T) {
	h := newTestHistory(t, history.Config{CacheTTL: time.Hour})
	ctx := context.Background()

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "original")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Turns[0].Content = "mutated"

	second, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if second.Turns[0].Content != "original" {
		t.Error("mutating a returned record leaked into the cache")
	}
}

func TestClear(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	if err := h.Append(ctx, 1, []history.Turn{turn("user", "to be deleted")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deleted, err := h.Clear(ctx, 1)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !deleted {
		t.Error("Clear reported nothing deleted for an existing conversation")
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get after Clear: %v", err)
	}
	if rec != nil {
		t.Errorf("conversation still present after Clear: %+v", rec)
	}
}

func TestClear_NothingToDelete(t *testing.T) {
	h := newTestHistory(t, history.Config{})

	deleted, err := h.Clear(context.Background(), 999)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted {
		t.Error("Clear reported a deletion for a conversation that never existed")
	}
}

func TestIsProbe(t *testing.T) {
	for _, probe := range []string{"ping", "PONG", "  Ping  ", "pong"} {
		if !history.IsProbe(probe) {
			t.Errorf("IsProbe(%q) = false, want true", probe)
		}
	}
	for _, real := range []string{"pinging the server", "", "hello", "pong?"} {
		if history.IsProbe(real) {
			t.Errorf("IsProbe(%q) = true, want false", real)
		}
	}
}

func TestAppend_ConcurrentSameConversation(t *testing.T) {
	h := newTestHistory(t, history.Config{})
	ctx := context.Background()

	const writers = 8
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			done <- h.Append(ctx, 1, []history.Turn{
				turn("user", strings.Repeat("x", n+1)),
			})
		}(i)
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Append: %v", err)
		}
	}

	rec, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Per-conversation serialization means no append may be lost.
	if len(rec.Turns) != writers {
		t.Errorf("got %d turns after %d concurrent appends, want %d (lost update)",
			len(rec.Turns), writers, writers)
	}
}
