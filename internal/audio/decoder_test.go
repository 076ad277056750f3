package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os/exec"
	"testing"
	"time"
)

func requireFFmpeg(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	return bin
}

// wavWith builds a mono WAV with the given format tag, bit depth and payload.
func wavWith(tag, bits uint16, rate uint32, payload []byte) []byte {
	var data []byte
	put32 := func(v uint32) { data = binary.LittleEndian.AppendUint32(data, v) }
	put16 := func(v uint16) { data = binary.LittleEndian.AppendUint16(data, v) }
	data = append(data, "RIFF"...)
	put32(uint32(36 + len(payload)))
	data = append(data, "WAVE"...)
	data = append(data, "fmt "...)
	put32(16)
	put16(tag)
	put16(1)
	put32(rate)
	put32(rate * uint32(bits/8))
	put16(bits / 8)
	put16(bits)
	data = append(data, "data"...)
	put32(uint32(len(payload)))
	return append(data, payload...)
}

func TestDecodeWAV_FloatAndWideInteger(t *testing.T) {
	var f32 []byte
	for _, v := range []float32{0.5, -0.5, 2} {
		f32 = binary.LittleEndian.AppendUint32(f32, math.Float32bits(v))
	}
	// 24-bit: 0x400000 (half scale) and its negation.
	i24 := []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0}
	var i32 []byte
	i32 = binary.LittleEndian.AppendUint32(i32, uint32(int32(1<<30)))

	tests := []struct {
		name string
		data []byte
		want []int16
	}{
		{"float32 clamps", wavWith(formatFloat, 32, 8000, f32), []int16{16383, -16383, 32767}},
		{"pcm24", wavWith(formatPCM, 24, 8000, i24), []int16{16384, -16384}},
		{"pcm32", wavWith(formatPCM, 32, 8000, i32), []int16{16384}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeWAV(tt.data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(c.Samples) != len(tt.want) {
				t.Fatalf("expected %d samples, got %v", len(tt.want), c.Samples)
			}
			for i := range tt.want {
				if c.Samples[i] != tt.want[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.want[i], c.Samples[i])
				}
			}
		})
	}
}

func TestDecodeWAV_UnhandledEncodingIsMarked(t *testing.T) {
	_, err := DecodeWAV(wavWith(2, 4, 8000, []byte{1, 2, 3, 4}))
	if !errors.Is(err, ErrInvalidWAV) || !errors.Is(err, errEncoding) {
		t.Errorf("expected ErrInvalidWAV and errEncoding, got %v", err)
	}
}

func TestDecoder_WAVNeedsNoFFmpeg(t *testing.T) {
	d := NewDecoder("/nonexistent/ffmpeg")
	wav, _ := EncodeWAV(tone(200*time.Millisecond, 8000), testRate)

	c, err := d.Decode(context.Background(), wav)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.SampleRate != testRate || len(c.Samples) != durationToSamples(200*time.Millisecond, testRate) {
		t.Errorf("unexpected clip %d Hz, %d samples", c.SampleRate, len(c.Samples))
	}
}

func TestDecoder_NonWAVWithoutFFmpeg(t *testing.T) {
	d := NewDecoder("/nonexistent/ffmpeg")
	webm := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, bytes.Repeat([]byte{0}, 64)...)

	if _, err := d.Decode(context.Background(), webm); !errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("expected ErrUnsupportedAudio, got %v", err)
	}
}

func TestDecoder_TranscodesOtherContainers(t *testing.T) {
	bin := requireFFmpeg(t)
	wav, _ := EncodeWAV(tone(time.Second, 8000), testRate)

	// Re-encode as Sun AU (big-endian PCM), which every ffmpeg build can mux.
	cmd := exec.Command(bin, "-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0", "-f", "au", "pipe:1")
	cmd.Stdin = bytes.NewReader(wav)
	au, err := cmd.Output()
	if err != nil {
		t.Fatalf("prepare au input: %v", err)
	}

	c, err := NewDecoder(bin).Decode(context.Background(), au)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.SampleRate != TranscodeRate {
		t.Errorf("expected %d Hz, got %d", TranscodeRate, c.SampleRate)
	}
	if d := c.Duration(); d < 900*time.Millisecond || d > 1100*time.Millisecond {
		t.Errorf("expected about one second of audio, got %v", d)
	}
	if c.DBFS() < -20 {
		t.Errorf("expected the tone to survive transcoding, got %.1f dBFS", c.DBFS())
	}
}

func TestDecoder_GarbageFailsUnderFFmpeg(t *testing.T) {
	bin := requireFFmpeg(t)
	if _, err := NewDecoder(bin).Decode(context.Background(), []byte("definitely not audio")); !errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("expected ErrUnsupportedAudio, got %v", err)
	}
}
