package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatmem/persona/pkg/memory"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "persona.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_MessagePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state", "persona.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	day := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	msgs := []memory.Message{
		{UserID: "u1", Username: "alice", Text: "привет", MessageID: "m1", Timestamp: day},
		{UserID: "u2", Username: "bob", Text: "hello", MessageID: "m2", Timestamp: day.Add(time.Minute)},
		{UserID: "u1", Username: "alice", Text: "вчерашнее", MessageID: "m0", Timestamp: day.Add(-24 * time.Hour)},
	}
	for _, msg := range msgs {
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()

	got, err := s2.MessagesOn(ctx, day)
	if err != nil {
		t.Fatalf("messages on day: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages for the day, got %d", len(got))
	}
	if got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Fatalf("messages not ordered oldest first: %+v", got)
	}

	recent, err := s2.RecentMessages(ctx, 2)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(recent) != 2 || recent[0].MessageID != "m1" || recent[1].MessageID != "m2" {
		t.Fatalf("recent window wrong: %+v", recent)
	}
}

func TestSQLiteStore_SaveMessageValidation(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveMessage(context.Background(), memory.Message{Text: "no user"}); err == nil {
		t.Fatal("expected error for empty user_id")
	}
}

func TestSQLiteStore_UpsertUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	early := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)

	if err := s.UpsertUser(ctx, "u1", "alice", early); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertUser(ctx, "u1", "alice_new", late); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	// Out-of-order upsert must not move last-seen backwards.
	if err := s.UpsertUser(ctx, "u1", "", early); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Username != "alice_new" {
		t.Fatalf("username = %q, want alice_new", users[0].Username)
	}
	if !users[0].LastSeen.Equal(late) {
		t.Fatalf("last seen = %v, want %v", users[0].LastSeen, late)
	}
}

func TestSQLiteStore_GraphDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.LoadGraphDocument(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc1 := []byte(`{"quick_facts":["любит кофе"]}`)
	if err := s.SaveGraphDocument(ctx, "u1", "alice", doc1); err != nil {
		t.Fatalf("save graph: %v", err)
	}
	doc2 := []byte(`{"quick_facts":["любит кофе","боится пауков"]}`)
	if err := s.SaveGraphDocument(ctx, "u1", "alice", doc2); err != nil {
		t.Fatalf("replace graph: %v", err)
	}

	username, got, err := s.LoadGraphDocument(ctx, "u1")
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	if username != "alice" {
		t.Fatalf("username = %q, want alice", username)
	}
	if string(got) != string(doc2) {
		t.Fatalf("document = %s, want latest version", got)
	}

	ids, err := s.ListGraphUserIDs(ctx)
	if err != nil {
		t.Fatalf("list graph users: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("graph users = %v, want [u1]", ids)
	}
}

func TestSQLiteStore_DeleteMessagesBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{now.Add(-72 * time.Hour), now.Add(-time.Hour), now} {
		msg := memory.Message{UserID: "u1", Username: "alice", Text: "x", MessageID: string(rune('a' + i)), Timestamp: ts}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	removed, err := s.DeleteMessagesBefore(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("delete old: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	left, err := s.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("expected 2 messages left, got %d", len(left))
	}
}

func TestSQLiteStore_AnalysisRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.LastAnalysisRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := AnalysisRun{
		StartedAt:   time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 9, 3, 1, 0, 0, time.UTC),
		Users:       2,
		NewFacts:    3,
	}
	second := AnalysisRun{
		StartedAt: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
		Error:     "analyzer unavailable",
	}
	for _, run := range []AnalysisRun{first, second} {
		if err := s.RecordAnalysisRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	last, err := s.LastAnalysisRun(ctx)
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if !last.StartedAt.Equal(second.StartedAt) {
		t.Fatalf("last run started at %v, want %v", last.StartedAt, second.StartedAt)
	}
	if last.Error != "analyzer unavailable" {
		t.Fatalf("last run error = %q", last.Error)
	}
	if !last.CompletedAt.IsZero() {
		t.Fatalf("failed run should have zero completion time, got %v", last.CompletedAt)
	}
}
