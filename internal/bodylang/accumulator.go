// Package bodylang aggregates pose observations from the client's camera
// into posture, gesture and nod metrics.
package bodylang

import "sync"

const (
	// Shoulders closer than this in normalized height count as level.
	uprightTolerance = 0.02
	// A rise of the nose by more than this since the last frame is a nod.
	nodThreshold = 0.03
	// Frames are assumed to arrive at this rate when converting to per-minute.
	framesPerSecond = 30
)

// Suggestions are returned with every report.
var Suggestions = []string{
	"Keep your shoulders level to appear more confident.",
	"Use deliberate hand gestures, aiming for about 10 to 15 per minute.",
	"Avoid excessive head nodding; it can distract your audience.",
}

// Pose holds the normalized (0 at the top, 1 at the bottom) heights of the
// landmarks the metrics use.
type Pose struct {
	LeftShoulderY  float64 `json:"leftShoulderY"`
	RightShoulderY float64 `json:"rightShoulderY"`
	NoseY          float64 `json:"noseY"`
}

// Frame is one camera frame as seen by the client's pose model. Pose is nil
// when no body was detected.
type Frame struct {
	Pose      *Pose `json:"pose,omitempty"`
	LeftHand  bool  `json:"leftHand"`
	RightHand bool  `json:"rightHand"`
}

// Report is the drained summary of all frames since the previous drain.
type Report struct {
	Frames          int      `json:"frames"`
	PostureScore    int      `json:"postureScore"`
	HandGestureRate int      `json:"handGestureRate"`
	HeadNodCount    int      `json:"headNodCount"`
	Suggestions     []string `json:"suggestions"`
}

type counters struct {
	frames, upright, nods, gestures int
}

// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	c         counters
	lastNoseY *float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Observe records one frame.
func (a *Accumulator) Observe(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.c.frames++
	if p := f.Pose; p != nil {
		d := p.LeftShoulderY - p.RightShoulderY
		if d < 0 {
			d = -d
		}
		if d < uprightTolerance {
			a.c.upright++
		}
		if a.lastNoseY != nil && *a.lastNoseY-p.NoseY > nodThreshold {
			a.c.nods++
		}
		y := p.NoseY
		a.lastNoseY = &y
	}
	if f.LeftHand || f.RightHand {
		a.c.gestures++
	}
}

// Drain returns the report for all frames observed so far and resets the
// counters in the same critical section. The last nose height is kept so a
// nod spanning two reports is still seen.
func (a *Accumulator) Drain() Report {
	a.mu.Lock()
	c := a.c
	a.c = counters{}
	a.mu.Unlock()

	fc := c.frames
	if fc == 0 {
		fc = 1
	}
	perMinute := func(n int) int { return n * framesPerSecond * 60 / fc }
	return Report{
		Frames:          c.frames,
		PostureScore:    c.upright * 100 / fc,
		HandGestureRate: perMinute(c.gestures),
		HeadNodCount:    perMinute(c.nods),
		Suggestions:     append([]string(nil), Suggestions...),
	}
}
