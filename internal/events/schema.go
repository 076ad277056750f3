package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a usage record for one handled turn.
type Event struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	LatencyMS int64           `json:"latency_ms"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Event types recorded by the coach service.
const (
	TypeTranscribe          = "transcribe"
	TypeAnalyzePresentation = "analyze.presentation"
	TypeExplainQuestions    = "explain.questions"
	TypeExplainAnswer       = "explain.answer"
	TypeExplainSummary      = "explain.summary"
	TypeBodyMetrics         = "body.metrics"
	TypeError               = "error"
)

// SubjectPrefix is prepended to the event type when events travel over NATS.
const SubjectPrefix = "mentor.turn."

// New builds an event stamped now. meta may be nil.
func New(sessionID, eventType string, latency time.Duration, meta map[string]any) Event {
	raw := json.RawMessage(`{}`)
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			raw = b
		}
	}
	return Event{
		EventID:   uuid.New().String(),
		SessionID: sessionID,
		Source:    "coach",
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		LatencyMS: latency.Milliseconds(),
		Metadata:  raw,
	}
}

// Subject returns the NATS subject this event is published on.
func (e *Event) Subject() string {
	return SubjectPrefix + e.EventType
}

// Normalize fills in missing fields with sensible defaults.
// It never drops an event; the result is always usable.
func Normalize(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}

	if e.Timestamp.IsZero() {
		slog.Warn("event missing timestamp, using ingestion time", "event_id", e.EventID)
		e.Timestamp = time.Now().UTC()
	}

	if e.Metadata == nil {
		e.Metadata = json.RawMessage(`{}`)
	}

	return e, nil
}

// MetadataField extracts a string field from the metadata JSON.
func (e *Event) MetadataField(key string) string {
	var m map[string]any
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MetadataNumber extracts a numeric field from the metadata JSON.
func (e *Event) MetadataNumber(key string) (float64, bool) {
	var m map[string]any
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return 0, false
	}
	f, ok := m[key].(float64)
	return f, ok
}
