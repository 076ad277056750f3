package audio

import (
	"math"
	"time"
)

const testRate = 16000

func tone(d time.Duration, amplitude float64) []int16 {
	n := durationToSamples(d, testRate)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*220*float64(i)/testRate))
	}
	return out
}

func silence(d time.Duration) []int16 {
	return make([]int16, durationToSamples(d, testRate))
}

func clipOf(parts ...[]int16) Clip {
	var samples []int16
	for _, p := range parts {
		samples = append(samples, p...)
	}
	return Clip{Samples: samples, SampleRate: testRate}
}
