package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "mentor.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLite_Contract(t *testing.T) {
	runStoreSuite(t, openTestSQLite(t))
}

func TestSQLite_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentor.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	c := &session.ChatSession{ID: "persist", Title: "t", Mode: session.ModeExplain, AudienceLevel: session.LevelExpert}
	if err := s.CreateChat(ctx, c); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.GetChat(ctx, "persist")
	if err != nil || got == nil {
		t.Fatalf("expected record after reopen, got %v %v", got, err)
	}
	if got.Mode != session.ModeExplain || got.AudienceLevel != session.LevelExpert {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestSQLite_TurnEventsIgnoreDuplicates(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	e := events.New("s1", events.TypeExplainSummary, 2*time.Second, nil)

	if err := s.InsertTurnEvents(ctx, []events.Event{e}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTurnEvents(ctx, []events.Event{e}); err != nil {
		t.Fatalf("duplicate insert should be ignored: %v", err)
	}
	n, err := s.CountTurnEvents(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}
