package audio

import (
	"sync"
	"time"
)

// Timeline mixes mono buffers scheduled at absolute positions into one
// contiguous output stream. The playback position advances only through
// [Timeline.Render], so a device callback that renders N samples moves the
// clock forward by exactly N samples. Output backends build their
// [OutputDevice] on top of a Timeline.
//
// All methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu   sync.Mutex
	pos  int64
	segs []timelineSegment
}

type timelineSegment struct {
	start   int64
	samples []float32
}

// NewTimeline returns an empty timeline running at rate Hz.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// SampleRate returns the timeline rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the current playback position.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationOf(t.pos)
}

// Schedule places samples at position at. A position already rendered is
// moved up to the current position.
func (t *Timeline) Schedule(at time.Duration, samples []float32) {
	if len(samples) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	start := max(t.positionOf(at), t.pos)
	t.segs = append(t.segs, timelineSegment{start: start, samples: samples})
}

// Render fills out with the next len(out) samples of the mix, advances the
// position, and drops segments that finished playing. Slots with nothing
// scheduled are silence. It reports whether any scheduled audio was rendered.
func (t *Timeline) Render(out []float32) bool {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.pos
	to := from + int64(len(out))
	active := false
	kept := t.segs[:0]
	for _, seg := range t.segs {
		end := seg.start + int64(len(seg.samples))
		lo, hi := max(seg.start, from), min(end, to)
		for p := lo; p < hi; p++ {
			out[p-from] += seg.samples[p-seg.start]
			active = true
		}
		if end > to {
			kept = append(kept, seg)
		}
	}
	clear(t.segs[len(kept):])
	t.segs = kept
	t.pos = to

	if active {
		for i, s := range out {
			if s > 1 {
				out[i] = 1
			} else if s < -1 {
				out[i] = -1
			}
		}
	}
	return active
}

// Flush drops every scheduled segment.
func (t *Timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.segs)
	t.segs = t.segs[:0]
}

// Buffered returns how much scheduled audio lies ahead of the current
// position.
func (t *Timeline) Buffered() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last int64
	for _, seg := range t.segs {
		last = max(last, seg.start+int64(len(seg.samples)))
	}
	if last <= t.pos {
		return 0
	}
	return t.durationOf(last - t.pos)
}

func (t *Timeline) positionOf(d time.Duration) int64 {
	if t.rate <= 0 || d <= 0 {
		return 0
	}
	// Round to the nearest sample so durations truncated to nanoseconds
	// still land back-to-back.
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) durationOf(samples int64) time.Duration {
	if t.rate <= 0 {
		return 0
	}
	return time.Duration(samples * int64(time.Second) / int64(t.rate))
}
