package metrics

import (
	"context"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
)

// Processor turns flushed turn events into collector updates.
type Processor struct {
	m *Metrics
}

func NewProcessor(m *Metrics) *Processor {
	return &Processor{m: m}
}

func (p *Processor) Process(_ context.Context, e events.Event) {
	p.m.Turns.WithLabelValues(e.EventType).Inc()
	if e.LatencyMS > 0 {
		p.m.TurnLatency.WithLabelValues(e.EventType).Observe(float64(e.LatencyMS) / 1000)
	}

	switch e.EventType {
	case events.TypeTranscribe:
		if n, ok := e.MetadataNumber("chunks"); ok {
			p.m.ChunksPerClip.Observe(n)
			if n > 1 {
				p.m.SilenceMarkers.Add(n - 1)
			}
		}
	case events.TypeError:
		kind := e.MetadataField("kind")
		if kind == "" {
			kind = "unknown"
		}
		p.m.TurnErrors.WithLabelValues(kind).Inc()
	}
}
