// Package batcher buffers turn events and bulk-writes them to the store.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
)

// Alert subjects published when the event pipeline degrades.
const (
	SubjectBufferOverflow = "mentor.system.batcher.buffer_overflow"
	SubjectWriteFailure   = "mentor.system.batcher.write_failure"
)

// Sink persists a batch of events.
type Sink interface {
	InsertTurnEvents(ctx context.Context, evts []events.Event) error
}

// EventProcessor consumes each event after its batch was written.
type EventProcessor interface {
	Process(ctx context.Context, e events.Event)
}

type Batcher struct {
	sink           Sink
	procs          []EventProcessor
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []events.Event
	consecutiveFail int
	alert           func(subject string, data []byte) error

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

func New(s Sink, cfg Config, procs ...EventProcessor) *Batcher {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 100
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = 10000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Batcher{
		sink:           s,
		procs:          procs,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]events.Event, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetAlertPublisher sets the function used to report pipeline problems.
func (b *Batcher) SetAlertPublisher(fn func(subject string, data []byte) error) {
	b.mu.Lock()
	b.alert = fn
	b.mu.Unlock()
}

// Add enqueues an event. When the buffer is full the oldest events are dropped.
func (b *Batcher) Add(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) >= b.bufferMax {
		dropped := len(b.buffer) - b.bufferMax + 1
		b.buffer = b.buffer[dropped:]
		slog.Warn("buffer overflow, dropping oldest events", "dropped", dropped, "buffer_size", b.bufferMax)
		b.publishAlert(SubjectBufferOverflow, []byte(`{"message":"turn event buffer overflow, dropping events"}`))
	}

	b.buffer = append(b.buffer, e)

	if len(b.buffer) >= b.flushThreshold {
		go b.flush()
	}
}

// Start begins the periodic flush ticker.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-ctx.Done():
				b.flush()
				close(b.done)
				return
			}
		}
	}()
}

// Wait blocks until the batcher has completed its final flush.
func (b *Batcher) Wait() {
	<-b.done
}

// BufferLen returns the current buffer size.
func (b *Batcher) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]events.Event, 0, b.flushThreshold)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.sink.InsertTurnEvents(ctx, batch); err != nil {
		slog.Error("failed to insert turn events", "error", err, "count", len(batch))
		b.handleWriteFailure(batch)
		return
	}

	b.mu.Lock()
	b.consecutiveFail = 0
	b.mu.Unlock()

	for _, p := range b.procs {
		for _, e := range batch {
			p.Process(ctx, e)
		}
	}

	slog.Debug("turn events flushed", "count", len(batch))
}

func (b *Batcher) handleWriteFailure(batch []events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++

	// Re-queue ahead of newer events so order is kept.
	b.buffer = append(batch, b.buffer...)
	if len(b.buffer) > b.bufferMax {
		b.buffer = b.buffer[len(b.buffer)-b.bufferMax:]
	}

	if b.consecutiveFail >= 3 {
		slog.Error("3 consecutive write failures", "buffer_size", len(b.buffer))
		b.publishAlert(SubjectWriteFailure, []byte(`{"message":"3 consecutive turn event write failures"}`))
	}
}

// publishAlert must be called with b.mu held.
func (b *Batcher) publishAlert(subject string, data []byte) {
	if b.alert == nil {
		return
	}
	if err := b.alert(subject, data); err != nil {
		slog.Error("failed to publish alert", "subject", subject, "error", err)
	}
}
