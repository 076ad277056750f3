package transcript

import "time"

// SilenceMarker is inserted between consecutive speech chunks.
const SilenceMarker = "[silence]"

// SubjectTranscriptStored is published after every successful assembly.
const SubjectTranscriptStored = "mentor.transcript.stored"

// PublishFunc is the callback signature for publishing to NATS.
type PublishFunc func(subject string, data []byte) error

// TranscriptEvent is the NATS payload published to mentor.transcript.stored.
type TranscriptEvent struct {
	TranscriptID string    `json:"transcript_id"`
	Transcript   string    `json:"transcript"`
	Chunks       int       `json:"chunks"`
	SkippedEmpty int       `json:"skipped_empty"`
	AudioMillis  int64     `json:"audio_ms"`
	AssembledAt  time.Time `json:"assembled_at"`
}
