package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

// runStoreSuite exercises the DataStore contract against any backend.
// ids are suffixed so runs against shared databases do not collide.
func runStoreSuite(t *testing.T, s DataStore) {
	suffix := fmt.Sprintf("-%d", time.Now().UnixNano())
	ctx := context.Background()

	t.Run("get absent", func(t *testing.T) {
		c, err := s.GetChat(ctx, "missing"+suffix)
		if err != nil || c != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", c, err)
		}
		d, err := s.GetDialogue(ctx, "missing"+suffix)
		if err != nil || d != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", d, err)
		}
	})

	t.Run("create is idempotent", func(t *testing.T) {
		id := "chat-create" + suffix
		first := &session.ChatSession{ID: id, Title: "first", Mode: session.ModeExplain, AudienceLevel: session.LevelExpert}
		if err := s.CreateChat(ctx, first); err != nil {
			t.Fatalf("create: %v", err)
		}
		dup := &session.ChatSession{ID: id, Title: "second", Mode: session.ModePresentation, AudienceLevel: session.LevelBeginner}
		if err := s.CreateChat(ctx, dup); err != nil {
			t.Fatalf("duplicate create should be a no-op, got %v", err)
		}

		got, err := s.GetChat(ctx, id)
		if err != nil || got == nil {
			t.Fatalf("get: %v %v", got, err)
		}
		if got.Title != "first" || got.Mode != session.ModeExplain {
			t.Errorf("duplicate create overwrote record: %+v", got)
		}
		if got.Version != 1 {
			t.Errorf("expected version 1, got %d", got.Version)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected created_at to be stamped")
		}
	})

	t.Run("upsert round trip and conflict", func(t *testing.T) {
		id := "chat-upsert" + suffix
		if err := s.CreateChat(ctx, &session.ChatSession{ID: id, Mode: session.ModePresentation, AudienceLevel: session.LevelBeginner}); err != nil {
			t.Fatal(err)
		}
		a, _ := s.GetChat(ctx, id)
		b, _ := s.GetChat(ctx, id)

		now := time.Now().UTC()
		a.Append(session.Message{ID: "m1", Role: session.RoleUser, Content: "hello", Timestamp: now})
		a.Append(session.Message{ID: "m2", Role: session.RoleAssistant, Content: "hi", Timestamp: now,
			Feedback: &session.Feedback{Questions: []string{"q?"}}})
		if err := s.UpsertChat(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if a.Version != 2 {
			t.Errorf("expected version advanced to 2, got %d", a.Version)
		}

		b.Title = "stale"
		if err := s.UpsertChat(ctx, b); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for stale write, got %v", err)
		}

		got, _ := s.GetChat(ctx, id)
		if len(got.Messages) != 2 || got.Title == "stale" {
			t.Fatalf("unexpected stored record %+v", got)
		}
		if !got.Messages[1].Timestamp.After(got.Messages[0].Timestamp) {
			t.Error("expected strictly increasing timestamps")
		}
		if got.Messages[1].Feedback == nil || got.Messages[1].Feedback.Questions[0] != "q?" {
			t.Errorf("feedback payload lost: %+v", got.Messages[1].Feedback)
		}
	})

	t.Run("upsert absent", func(t *testing.T) {
		id := "chat-fresh" + suffix
		c := &session.ChatSession{ID: id, Mode: session.ModeExplain, AudienceLevel: session.LevelIntermediate}
		if err := s.UpsertChat(ctx, c); err != nil {
			t.Fatalf("upsert of fresh record: %v", err)
		}
		if c.Version != 1 {
			t.Errorf("expected version 1, got %d", c.Version)
		}
		ghost := &session.ChatSession{ID: "chat-ghost" + suffix, Version: 4}
		if err := s.UpsertChat(ctx, ghost); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for versioned write to absent record, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		id := "chat-delete" + suffix
		s.CreateChat(ctx, &session.ChatSession{ID: id, Mode: session.ModePresentation, AudienceLevel: session.LevelBeginner})
		if err := s.DeleteChat(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.DeleteChat(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if c, _ := s.GetChat(ctx, id); c != nil {
			t.Error("record still readable after delete")
		}
		if err := s.DeleteDialogue(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for absent dialogue, got %v", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		older := &session.ChatSession{ID: "list-a" + suffix, Mode: session.ModePresentation, AudienceLevel: session.LevelBeginner}
		s.CreateChat(ctx, older)
		time.Sleep(5 * time.Millisecond)
		newer := &session.ChatSession{ID: "list-b" + suffix, Mode: session.ModePresentation, AudienceLevel: session.LevelBeginner}
		s.CreateChat(ctx, newer)

		got, err := s.ListChats(ctx, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		posA, posB := -1, -1
		for i, c := range got {
			switch c.ID {
			case older.ID:
				posA = i
			case newer.ID:
				posB = i
			}
		}
		if posA < 0 || posB < 0 || posB > posA {
			t.Errorf("expected %s before %s, got positions %d %d", newer.ID, older.ID, posB, posA)
		}

		limited, _ := s.ListChats(ctx, 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("dialogue lifecycle", func(t *testing.T) {
		id := "dlg" + suffix
		if err := s.CreateDialogue(ctx, &session.DialogueSession{ID: id}); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateDialogue(ctx, &session.DialogueSession{ID: id, OriginalText: "dup"}); err != nil {
			t.Fatal(err)
		}

		d, _ := s.GetDialogue(ctx, id)
		if d == nil || d.OriginalText != "" || d.Version != 1 {
			t.Fatalf("unexpected dialogue %+v", d)
		}
		d.PendingQuestions = []string{"a?", "b?", "c?"}
		d.OriginalText = "explanation"
		if err := s.UpsertDialogue(ctx, d); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		stale := &session.DialogueSession{ID: id, Version: 1}
		if err := s.UpsertDialogue(ctx, stale); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		d.TeacherResponses = append(d.TeacherResponses, "answer one")
		d.QuestionIndex = 1
		d.Summarized = true
		if err := s.UpsertDialogue(ctx, d); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		got, _ := s.GetDialogue(ctx, id)
		if got.Version != 3 || got.QuestionIndex != 1 || len(got.PendingQuestions) != 3 ||
			len(got.TeacherResponses) != 1 || !got.Summarized {
			t.Errorf("unexpected stored dialogue %+v", got)
		}

		if err := s.DeleteDialogue(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	})

	t.Run("concurrent creates", func(t *testing.T) {
		id := "race" + suffix
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.CreateDialogue(ctx, &session.DialogueSession{ID: id, OriginalText: fmt.Sprint(i)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("create: %v", err)
			}
		}
		d, _ := s.GetDialogue(ctx, id)
		if d == nil || d.Version != 1 {
			t.Fatalf("expected exactly one record at version 1, got %+v", d)
		}
	})

	t.Run("turn events", func(t *testing.T) {
		e := events.New("evt"+suffix, events.TypeTranscribe, time.Second, map[string]any{"chunks": 2})
		if err := s.InsertTurnEvents(ctx, []events.Event{e}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := s.InsertTurnEvents(ctx, nil); err != nil {
			t.Fatalf("empty insert: %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("ping: %v", err)
		}
	})
}
