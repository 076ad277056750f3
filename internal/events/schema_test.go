package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalize_ValidEvent(t *testing.T) {
	ts := time.Date(2026, 2, 12, 14, 30, 0, 0, time.UTC)
	raw, _ := json.Marshal(map[string]any{
		"event_id":   "abc-123",
		"session_id": "s1",
		"source":     "coach",
		"event_type": TypeExplainAnswer,
		"timestamp":  ts.Format(time.RFC3339),
		"latency_ms": 420,
		"metadata":   map[string]any{"mode": "Explain"},
	})

	event, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.EventID != "abc-123" {
		t.Errorf("expected event_id abc-123, got %s", event.EventID)
	}
	if event.SessionID != "s1" {
		t.Errorf("expected session_id s1, got %s", event.SessionID)
	}
	if event.EventType != TypeExplainAnswer {
		t.Errorf("expected event_type %s, got %s", TypeExplainAnswer, event.EventType)
	}
	if event.LatencyMS != 420 {
		t.Errorf("expected latency 420, got %d", event.LatencyMS)
	}
	if !event.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, event.Timestamp)
	}
}

func TestNormalize_MissingEventID(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"session_id": "s1",
		"event_type": TypeTranscribe,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	event, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(event.EventID) != 36 {
		t.Errorf("expected UUID format, got %s", event.EventID)
	}
}

func TestNormalize_MissingTimestampAndMetadata(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"event_id": "abc-123", "event_type": TypeError})

	event, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := time.Since(event.Timestamp); event.Timestamp.IsZero() || diff > 5*time.Second {
		t.Errorf("expected ingestion timestamp, got %v", event.Timestamp)
	}
	if string(event.Metadata) != "{}" {
		t.Errorf("expected empty JSON object, got %s", string(event.Metadata))
	}
}

func TestNormalize_InvalidJSON(t *testing.T) {
	if _, err := Normalize([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNew(t *testing.T) {
	e := New("s9", TypeAnalyzePresentation, 1500*time.Millisecond, map[string]any{"level": "Expert"})

	if e.EventID == "" || e.SessionID != "s9" || e.Source != "coach" {
		t.Errorf("unexpected identity fields %+v", e)
	}
	if e.LatencyMS != 1500 {
		t.Errorf("expected 1500ms, got %d", e.LatencyMS)
	}
	if got := e.MetadataField("level"); got != "Expert" {
		t.Errorf("expected level Expert, got %q", got)
	}
	if e.Subject() != "mentor.turn.analyze.presentation" {
		t.Errorf("unexpected subject %s", e.Subject())
	}

	empty := New("s9", TypeTranscribe, 0, nil)
	if string(empty.Metadata) != "{}" {
		t.Errorf("expected {} metadata, got %s", empty.Metadata)
	}
}

func TestMetadataField(t *testing.T) {
	e := Event{Metadata: json.RawMessage(`{"mode":"Explain","chunks":3}`)}

	if got := e.MetadataField("mode"); got != "Explain" {
		t.Errorf("expected 'Explain', got %q", got)
	}
	if got := e.MetadataField("missing"); got != "" {
		t.Errorf("expected empty string for missing key, got %q", got)
	}
	if got := e.MetadataField("chunks"); got != "" {
		t.Errorf("expected empty string for non-string field, got %q", got)
	}

	bad := Event{Metadata: json.RawMessage(`not json`)}
	if got := bad.MetadataField("anything"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
