package audio

import (
	"math"
	"time"
)

// SegmenterConfig controls silence detection.
type SegmenterConfig struct {
	// MinSilence is the shortest pause that splits two chunks.
	MinSilence time.Duration
	// ThresholdOffset is subtracted from the clip's dBFS to get the noise floor.
	ThresholdOffset float64
	// KeepSilence is the padding retained on both sides of every chunk.
	KeepSilence time.Duration
}

// DefaultSegmenterConfig returns 500ms / -16dB / 250ms.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		MinSilence:      500 * time.Millisecond,
		ThresholdOffset: 16,
		KeepSilence:     250 * time.Millisecond,
	}
}

// Segment is a contiguous speech chunk of a clip.
type Segment struct {
	Start      time.Duration
	Duration   time.Duration
	Samples    []int16
	SampleRate int
	// TrailingGap is set on every chunk that is followed by another chunk.
	TrailingGap bool
}

// WAV encodes the chunk for the speech-to-text collaborator.
func (s Segment) WAV() ([]byte, error) {
	return EncodeWAV(s.Samples, s.SampleRate)
}

// Segmenter splits clips on silence. It holds no state between calls.
type Segmenter struct {
	cfg SegmenterConfig
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = def.MinSilence
	}
	if cfg.ThresholdOffset <= 0 {
		cfg.ThresholdOffset = def.ThresholdOffset
	}
	if cfg.KeepSilence < 0 {
		cfg.KeepSilence = 0
	}
	return &Segmenter{cfg: cfg}
}

type span struct{ start, end int }

// Segment returns the speech chunks of c in temporal order. A clip with no
// detected silence is one chunk; a silent clip yields none.
func (s *Segmenter) Segment(c Clip) []Segment {
	n := len(c.Samples)
	if n == 0 || c.SampleRate <= 0 {
		return nil
	}

	overall := c.RMS()
	if overall == 0 {
		return nil
	}
	threshold := dbToAmplitude(DBFS(overall) - s.cfg.ThresholdOffset)

	speech := s.speechSpans(c.Samples, c.SampleRate, threshold)
	if len(speech) == 0 {
		return nil
	}

	keep := durationToSamples(s.cfg.KeepSilence, c.SampleRate)
	padded := make([]span, len(speech))
	for i, sp := range speech {
		padded[i] = span{start: sp.start - keep, end: sp.end + keep}
	}
	// Padding may overlap the neighbour; split the overlap at its midpoint.
	for i := 0; i+1 < len(padded); i++ {
		if padded[i+1].start < padded[i].end {
			mid := (padded[i].end + padded[i+1].start) / 2
			padded[i].end = mid
			padded[i+1].start = mid
		}
	}

	segments := make([]Segment, 0, len(padded))
	for _, sp := range padded {
		start := max(sp.start, 0)
		end := min(sp.end, n)
		if end <= start {
			continue
		}
		segments = append(segments, Segment{
			Start:      samplesToDuration(start, c.SampleRate),
			Duration:   samplesToDuration(end-start, c.SampleRate),
			Samples:    c.Samples[start:end],
			SampleRate: c.SampleRate,
		})
	}
	for i := range segments {
		segments[i].TrailingGap = i < len(segments)-1
	}
	return segments
}

// speechSpans returns the complement of the silent ranges. A window of
// MinSilence samples is slid in 1ms steps; windows whose RMS is at or below
// threshold are silent and consecutive silent windows merge into one range.
func (s *Segmenter) speechSpans(samples []int16, sampleRate int, threshold float64) []span {
	n := len(samples)
	win := durationToSamples(s.cfg.MinSilence, sampleRate)
	step := max(sampleRate/1000, 1)
	if win <= 0 {
		win = step
	}
	if n < win {
		return []span{{0, n}}
	}

	prefix := make([]float64, n+1)
	for i, v := range samples {
		f := float64(v)
		prefix[i+1] = prefix[i] + f*f
	}
	windowRMS := func(start int) float64 {
		return math.Sqrt((prefix[start+win] - prefix[start]) / float64(win))
	}

	var silent []span
	prev, rangeStart := -1, -1
	for i := 0; i <= n-win; i += step {
		if windowRMS(i) > threshold {
			continue
		}
		if prev < 0 {
			rangeStart = i
		} else if i != prev+step && i > prev+win {
			silent = append(silent, span{rangeStart, prev + win})
			rangeStart = i
		}
		prev = i
	}
	if prev >= 0 {
		end := prev + win
		if n-end < step {
			end = n
		}
		silent = append(silent, span{rangeStart, end})
	}

	if len(silent) == 0 {
		return []span{{0, n}}
	}
	if len(silent) == 1 && silent[0].start < step && silent[0].end == n {
		return nil
	}

	var speech []span
	prevEnd := 0
	for _, r := range silent {
		if r.start > prevEnd {
			speech = append(speech, span{prevEnd, r.start})
		}
		prevEnd = max(prevEnd, r.end)
	}
	if prevEnd < n {
		speech = append(speech, span{prevEnd, n})
	}
	return speech
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}
