package coach

import (
	"context"
	"log/slog"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
)

// EventPublisher sends a turn event to the bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e events.Event) error
}

// EventBuffer queues a turn event for the batched store write.
type EventBuffer interface {
	Add(e events.Event)
}

// BusRecorder publishes turn events to the bus, whose consumer feeds the
// batcher. Without a bus, or when publishing fails, events go straight to
// the buffer.
type BusRecorder struct {
	pub EventPublisher
	buf EventBuffer
}

// NewBusRecorder wires a recorder. pub may be nil.
func NewBusRecorder(pub EventPublisher, buf EventBuffer) *BusRecorder {
	return &BusRecorder{pub: pub, buf: buf}
}

func (r *BusRecorder) Record(ctx context.Context, e events.Event) {
	if r.pub != nil {
		err := r.pub.PublishEvent(ctx, e)
		if err == nil {
			return
		}
		slog.Warn("turn event publish failed, buffering locally", "event_id", e.EventID, "error", err)
	}
	if r.buf != nil {
		r.buf.Add(e)
	}
}
