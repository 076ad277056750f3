package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnsupportedAudio is returned for uploads that are neither WAV nor
// something ffmpeg can decode.
var ErrUnsupportedAudio = errors.New("unsupported audio data")

// TranscodeRate is the sample rate ffmpeg output is resampled to.
const TranscodeRate = 16000

// Decoder turns an upload into a Clip. WAV is decoded in process; any other
// container (webm, ogg, mp3, m4a) goes through ffmpeg first.
type Decoder struct {
	ffmpeg string
}

// NewDecoder uses the ffmpeg binary at path, looked up on PATH when it has no
// separator. An empty path means "ffmpeg".
func NewDecoder(path string) *Decoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Decoder{ffmpeg: path}
}

func (d *Decoder) Decode(ctx context.Context, data []byte) (Clip, error) {
	if IsWAV(data) {
		clip, err := DecodeWAV(data)
		if err == nil || !errors.Is(err, errEncoding) {
			return clip, err
		}
		slog.Debug("audio: wav encoding not handled natively, transcoding", "error", err)
	}
	wav, err := d.Transcode(ctx, data)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(wav)
}

// Transcode pipes data through ffmpeg and returns mono 16-bit WAV at
// TranscodeRate.
func (d *Decoder) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	bin, err := exec.LookPath(d.ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: not a WAV file and ffmpeg is unavailable: %v", ErrUnsupportedAudio, err)
	}

	// ffmpeg -i pipe:0 -ac 1 -ar 16000 -acodec pcm_s16le -f wav pipe:1
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1", "-ar", strconv.Itoa(TranscodeRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrUnsupportedAudio, err, strings.TrimSpace(stderr.String()))
	}
	slog.Debug("audio: transcoded upload", "in_bytes", len(data), "out_bytes", stdout.Len())
	return stdout.Bytes(), nil
}
