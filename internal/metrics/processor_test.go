package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
)

// gathered returns the summed counter value, or histogram sample count, of
// the family name with the given label value (empty matches any).
func gathered(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetValue() == labelValue {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func newTestProcessor() (*Processor, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewProcessor(New(reg)), reg
}

func TestProcess_CountsTurnsByType(t *testing.T) {
	p, reg := newTestProcessor()

	p.Process(context.Background(), events.New("s1", events.TypeExplainQuestions, 2*time.Second, nil))
	p.Process(context.Background(), events.New("s1", events.TypeExplainAnswer, 0, nil))
	p.Process(context.Background(), events.New("s1", events.TypeExplainAnswer, 0, nil))

	if got := gathered(t, reg, "mentor_turns_total", events.TypeExplainAnswer); got != 2 {
		t.Errorf("expected 2 answer turns, got %v", got)
	}
	if got := gathered(t, reg, "mentor_turn_latency_seconds", ""); got != 1 {
		t.Errorf("expected one latency sample, got %v", got)
	}
}

func TestProcess_TranscribeObservesChunks(t *testing.T) {
	p, reg := newTestProcessor()

	p.Process(context.Background(), events.New("s1", events.TypeTranscribe, time.Second, map[string]any{"chunks": 3}))

	if got := gathered(t, reg, "mentor_transcribe_chunks", ""); got != 1 {
		t.Errorf("expected one chunk sample, got %v", got)
	}
	if got := gathered(t, reg, "mentor_silence_markers_total", ""); got != 2 {
		t.Errorf("expected 2 silence markers, got %v", got)
	}
}

func TestProcess_ErrorKinds(t *testing.T) {
	p, reg := newTestProcessor()

	p.Process(context.Background(), events.New("s1", events.TypeError, 0, map[string]any{"kind": "invalid_model_response"}))
	p.Process(context.Background(), events.Event{
		EventID:   "e2",
		EventType: events.TypeError,
		Metadata:  json.RawMessage(`not json`),
	})

	if got := gathered(t, reg, "mentor_turn_errors_total", "invalid_model_response"); got != 1 {
		t.Errorf("expected 1 invalid_model_response error, got %v", got)
	}
	if got := gathered(t, reg, "mentor_turn_errors_total", "unknown"); got != 1 {
		t.Errorf("expected 1 unknown error, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHTTPRequest("POST", "/api/v1/analyze", "200", 0.2)
	m.RecordHTTPRequest("POST", "/api/v1/analyze", "502", 1.5)

	if got := gathered(t, reg, "mentor_http_requests_total", "/api/v1/analyze"); got != 2 {
		t.Errorf("expected 2 requests, got %v", got)
	}
}

func TestWatchBuffer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.WatchBuffer(ctx, func() int { return 7 }, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for gathered(t, reg, "mentor_event_buffer_size", "") != 7 {
		if time.Now().After(deadline) {
			t.Fatal("buffer gauge never set")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
