package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTimeline_BackToBackSegments(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(1000)
	first := constant(10, 0.1)
	second := constant(10, 0.2)

	tl.Schedule(0, first)
	tl.Schedule(audio.SamplesDuration(len(first), 1000), second)

	out := make([]float32, 25)
	if !tl.Render(out) {
		t.Fatal("expected active render")
	}
	for i := range 10 {
		if !approxEqual(out[i], 0.1) {
			t.Fatalf("out[%d] = %f, want 0.1", i, out[i])
		}
	}
	for i := 10; i < 20; i++ {
		if !approxEqual(out[i], 0.2) {
			t.Fatalf("out[%d] = %f, want 0.2", i, out[i])
		}
	}
	for i := 20; i < 25; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %f, want silence", i, out[i])
		}
	}
	if got := tl.Now(); got != 25*time.Millisecond {
		t.Errorf("Now() = %v, want 25ms", got)
	}
}

func TestTimeline_RenderAcrossCallbacks(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(1000)
	tl.Schedule(5*time.Millisecond, constant(10, 0.5))

	a := make([]float32, 8)
	b := make([]float32, 8)
	tl.Render(a)
	tl.Render(b)

	for i := range 5 {
		if a[i] != 0 {
			t.Errorf("a[%d] = %f, want silence before start", i, a[i])
		}
	}
	if a[5] != 0.5 || a[7] != 0.5 {
		t.Errorf("segment did not start at sample 5: %v", a)
	}
	if b[6] != 0.5 || b[7] != 0 {
		t.Errorf("segment did not end at sample 15: %v", b)
	}
	if got := tl.Buffered(); got != 0 {
		t.Errorf("Buffered() = %v, want 0", got)
	}
}

func TestTimeline_PastScheduleMovedToNow(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(1000)
	tl.Render(make([]float32, 100))

	tl.Schedule(10*time.Millisecond, constant(4, 0.3))
	out := make([]float32, 4)
	tl.Render(out)
	for i, s := range out {
		if !approxEqual(s, 0.3) {
			t.Errorf("out[%d] = %f, want 0.3", i, s)
		}
	}
}

func TestTimeline_OverlapClamped(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(1000)
	tl.Schedule(0, constant(2, 0.8))
	tl.Schedule(0, constant(2, 0.8))

	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 {
		t.Errorf("out[0] = %f, want clamp to 1", out[0])
	}
}

func TestTimeline_FlushAndBuffered(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(24000)
	tl.Schedule(0, constant(12000, 0.1))
	if got := tl.Buffered(); got != 500*time.Millisecond {
		t.Fatalf("Buffered() = %v, want 500ms", got)
	}
	tl.Flush()
	if got := tl.Buffered(); got != 0 {
		t.Errorf("Buffered() after Flush = %v, want 0", got)
	}
	if tl.Render(make([]float32, 10)) {
		t.Error("expected silent render after Flush")
	}
}
