// Package transcript turns an uploaded recording into one annotated
// transcript: segment on silence, transcribe each chunk, join with markers.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Toobanaz/ai-audience-mentor/internal/audio"
	"github.com/Toobanaz/ai-audience-mentor/internal/stt"
)

var (
	// ErrEmptyAudio is returned for an upload with no bytes.
	ErrEmptyAudio = errors.New("no audio provided")
	// ErrNoSpeech is returned when segmentation finds no speech chunk.
	ErrNoSpeech = errors.New("no speech detected in audio")
	// ErrEmptyTranscript is returned when every chunk transcribed to nothing.
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// Assembler runs the speech-to-text collaborator over speech chunks and joins
// the results. It keeps no state between calls.
type Assembler struct {
	stt       stt.Transcriber
	segmenter *audio.Segmenter
	decoder   *audio.Decoder
	publish   PublishFunc
}

// NewAssembler wires an Assembler. publish may be nil.
func NewAssembler(t stt.Transcriber, segmenter *audio.Segmenter, publish PublishFunc) *Assembler {
	if segmenter == nil {
		segmenter = audio.NewSegmenter(audio.DefaultSegmenterConfig())
	}
	return &Assembler{stt: t, segmenter: segmenter, decoder: audio.NewDecoder(""), publish: publish}
}

// SetDecoder replaces the upload decoder.
func (a *Assembler) SetDecoder(d *audio.Decoder) {
	a.decoder = d
}

// TranscribeAudio decodes an upload, segments it and assembles the transcript.
func (a *Assembler) TranscribeAudio(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}
	clip, err := a.decoder.Decode(ctx, data)
	if err != nil {
		return "", err
	}

	segments := a.segmenter.Segment(clip)
	slog.Debug("transcript: segmented",
		"duration", clip.Duration(),
		"dbfs", clip.DBFS(),
		"chunks", len(segments),
	)

	text, err := a.Assemble(ctx, segments)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Assemble transcribes each chunk in order. Empty chunk results are dropped
// but the marker after that chunk is still emitted.
func (a *Assembler) Assemble(ctx context.Context, segments []audio.Segment) (string, error) {
	if len(segments) == 0 {
		return "", ErrNoSpeech
	}

	parts := make([]string, 0, 2*len(segments))
	skipped := 0
	var audioLen time.Duration

	for i, seg := range segments {
		audioLen += seg.Duration
		wav, err := seg.WAV()
		if err != nil {
			return "", fmt.Errorf("encode chunk %d: %w", i, err)
		}
		text, err := a.stt.Transcribe(ctx, wav)
		if err != nil {
			return "", fmt.Errorf("transcribe chunk %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		} else {
			skipped++
			slog.Debug("transcript: empty chunk result", "chunk", i, "start", seg.Start)
		}
		if seg.TrailingGap {
			parts = append(parts, SilenceMarker)
		}
	}

	transcript := strings.TrimSpace(strings.Join(parts, " "))
	if skipped == len(segments) {
		return "", ErrEmptyTranscript
	}

	slog.Info("transcript: assembled",
		"chunks", len(segments),
		"skipped_empty", skipped,
		"chars", len(transcript),
	)

	a.announce(TranscriptEvent{
		TranscriptID: uuid.New().String(),
		Transcript:   transcript,
		Chunks:       len(segments),
		SkippedEmpty: skipped,
		AudioMillis:  audioLen.Milliseconds(),
		AssembledAt:  time.Now().UTC(),
	})
	return transcript, nil
}

func (a *Assembler) announce(evt TranscriptEvent) {
	if a.publish == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("transcript: failed to marshal transcript event", "error", err)
		return
	}
	if err := a.publish(SubjectTranscriptStored, payload); err != nil {
		slog.Error("transcript: failed to publish transcript event",
			"transcript_id", evt.TranscriptID,
			"error", err,
		)
		return
	}
	slog.Info("transcript: published to NATS",
		"subject", SubjectTranscriptStored,
		"transcript_id", evt.TranscriptID,
	)
}
