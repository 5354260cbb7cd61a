package playback_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/audio/mock"
	"github.com/MrWong99/lingobridge/pkg/bridge"
	"github.com/MrWong99/lingobridge/pkg/bridge/playback"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// pcm returns a raw PCM16 payload of n silent samples.
func pcm(n int) audio.Payload {
	return audio.Payload{Data: audio.EncodePCM16(make([]float32, n)), Encoding: audio.PayloadRaw}
}

// ms returns the number of 24 kHz samples in d milliseconds.
func ms(d int) int { return d * 24 }

type counter struct {
	bridge.NopRecorder
	mu           sync.Mutex
	underruns    int
	decodeErrors int
	scheduled    int
}

func (c *counter) PlaybackUnderrun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.underruns++
}

func (c *counter) PayloadDecodeError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodeErrors++
}

func (c *counter) PayloadScheduled(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled++
}

func (c *counter) get() (underruns, decodeErrors, scheduled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.underruns, c.decodeErrors, c.scheduled
}

func newScheduler(t *testing.T, opts ...playback.Option) (*playback.Scheduler, *mock.OutputDevice, *counter) {
	t.Helper()
	out := &mock.OutputDevice{}
	rec := &counter{}
	opts = append([]playback.Option{playback.WithRecorder(rec)}, opts...)
	return playback.New(audio.NewContext(nil, out.Opener()), opts...), out, rec
}

func mustEnqueue(t *testing.T, s *playback.Scheduler, p audio.Payload) playback.Segment {
	t.Helper()
	seg, err := s.Enqueue(p)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return seg
}

// ── Scheduling ────────────────────────────────────────────────────────────────

func TestEnqueue_BackToBack(t *testing.T) {
	t.Parallel()

	s, out, rec := newScheduler(t)

	var starts []time.Duration
	for range 3 {
		seg := mustEnqueue(t, s, pcm(ms(100)))
		if seg.Duration != 100*time.Millisecond {
			t.Fatalf("duration = %v, want 100ms", seg.Duration)
		}
		starts = append(starts, seg.Start)
	}

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("segment %d start = %v, want %v", i, starts[i], want[i])
		}
	}

	calls := out.ScheduleCalls()
	if len(calls) != 3 {
		t.Fatalf("Schedule called %d times, want 3", len(calls))
	}
	for i, c := range calls {
		if c.At != want[i] || len(c.Samples) != ms(100) {
			t.Errorf("call %d = (%v, %d samples)", i, c.At, len(c.Samples))
		}
	}
	if got := s.Buffered(); got != 300*time.Millisecond {
		t.Errorf("Buffered() = %v, want 300ms", got)
	}
	if _, _, scheduled := rec.get(); scheduled != 3 {
		t.Errorf("scheduled = %d, want 3", scheduled)
	}
}

func TestEnqueue_ContiguousOrClampedToClock(t *testing.T) {
	t.Parallel()

	s, out, _ := newScheduler(t)
	rng := rand.New(rand.NewPCG(42, 7))

	var prev playback.Segment
	for i := range 500 {
		out.Advance(time.Duration(rng.IntN(150)) * time.Millisecond)
		now := out.Now()

		seg := mustEnqueue(t, s, pcm(1+rng.IntN(ms(200))))

		if seg.Start < now {
			t.Fatalf("segment %d scheduled at %v, before clock %v", i, seg.Start, now)
		}
		if i == 0 {
			prev = seg
			continue
		}
		if seg.Start < prev.Start {
			t.Fatalf("segment %d start %v before previous %v", i, seg.Start, prev.Start)
		}
		switch {
		case seg.Clamped:
			if seg.Start != now || prev.End() >= now {
				t.Fatalf("segment %d clamped to %v (clock %v, previous end %v)", i, seg.Start, now, prev.End())
			}
		case seg.Start != prev.End():
			t.Fatalf("segment %d start %v, want previous end %v", i, seg.Start, prev.End())
		}
		prev = seg
	}
}

func TestEnqueue_UnderrunRecovery(t *testing.T) {
	t.Parallel()

	s, out, rec := newScheduler(t)

	first := mustEnqueue(t, s, pcm(ms(500)))
	if first.Start != 0 {
		t.Fatalf("first start = %v, want 0", first.Start)
	}

	// The segment plays out, then a second of silence.
	out.Advance(1500 * time.Millisecond)
	if got := s.Buffered(); got != 0 {
		t.Errorf("Buffered() after underrun = %v, want 0", got)
	}

	second := mustEnqueue(t, s, pcm(ms(100)))
	if second.Start != 1500*time.Millisecond {
		t.Errorf("start after underrun = %v, want clock 1.5s (not stale cursor %v)", second.Start, first.End())
	}
	if !second.Clamped {
		t.Error("segment after underrun should be clamped")
	}
	if underruns, _, _ := rec.get(); underruns != 1 {
		t.Errorf("underruns = %d, want 1", underruns)
	}
}

func TestEnqueue_MalformedPayloadDropped(t *testing.T) {
	t.Parallel()

	var hooked []*bridge.DecodeError
	s, out, rec := newScheduler(t, playback.WithOnDecodeError(func(e *bridge.DecodeError) {
		hooked = append(hooked, e)
	}))

	mustEnqueue(t, s, pcm(ms(100)))

	bad := []audio.Payload{
		{Data: []byte{1, 2, 3}, Encoding: audio.PayloadRaw},
		{Data: []byte("!!not base64!!"), Encoding: audio.PayloadBase64},
		{Encoding: audio.PayloadRaw},
	}
	for i, p := range bad {
		_, err := s.Enqueue(p)
		var derr *bridge.DecodeError
		if !errors.As(err, &derr) {
			t.Fatalf("payload %d: err = %v, want *bridge.DecodeError", i, err)
		}
		if derr.Size != len(p.Data) {
			t.Errorf("payload %d: size = %d, want %d", i, derr.Size, len(p.Data))
		}
	}
	if len(hooked) != len(bad) {
		t.Errorf("hook called %d times, want %d", len(hooked), len(bad))
	}
	if _, decodeErrors, _ := rec.get(); decodeErrors != len(bad) {
		t.Errorf("decode errors = %d, want %d", decodeErrors, len(bad))
	}
	if n := len(out.ScheduleCalls()); n != 1 {
		t.Fatalf("Schedule called %d times, want 1", n)
	}

	// The cursor is untouched by the dropped payloads.
	out.Advance(50 * time.Millisecond)
	next := mustEnqueue(t, s, pcm(ms(100)))
	if next.Start != 100*time.Millisecond {
		t.Errorf("start after bad payloads = %v, want 100ms", next.Start)
	}

	// And still follows the clock after a stall.
	out.Advance(time.Second)
	late := mustEnqueue(t, s, pcm(ms(100)))
	if late.Start != out.Now() {
		t.Errorf("late start = %v, want clock %v", late.Start, out.Now())
	}
}

func TestEnqueue_Base64Payload(t *testing.T) {
	t.Parallel()

	s, out, _ := newScheduler(t)
	// "AEA=" is one sample: 0x4000 = 16384 -> 0.5.
	seg := mustEnqueue(t, s, audio.Payload{Data: []byte("AEA="), Encoding: audio.PayloadBase64})
	if seg.Samples != 1 {
		t.Fatalf("samples = %d, want 1", seg.Samples)
	}
	if got := out.ScheduleCalls()[0].Samples[0]; got != 0.5 {
		t.Errorf("sample = %v, want 0.5", got)
	}
}

// ── Reset / Release ───────────────────────────────────────────────────────────

func TestReset_FlushesAndMovesCursorToClock(t *testing.T) {
	t.Parallel()

	s, out, rec := newScheduler(t)

	mustEnqueue(t, s, pcm(ms(100)))
	mustEnqueue(t, s, pcm(ms(100)))
	out.Advance(50 * time.Millisecond)

	s.Reset()
	if out.CallCountFlush() != 1 {
		t.Errorf("Flush called %d times, want 1", out.CallCountFlush())
	}
	if got := s.Buffered(); got != 0 {
		t.Errorf("Buffered() after reset = %v, want 0", got)
	}

	seg := mustEnqueue(t, s, pcm(ms(100)))
	if seg.Start != 50*time.Millisecond {
		t.Errorf("start after reset = %v, want 50ms", seg.Start)
	}

	// A clamp right after a reset is not an underrun.
	s.Reset()
	out.Advance(time.Second)
	mustEnqueue(t, s, pcm(ms(100)))
	if underruns, _, _ := rec.get(); underruns != 0 {
		t.Errorf("underruns = %d, want 0", underruns)
	}
}

func TestReset_DoesNotOpenDevice(t *testing.T) {
	t.Parallel()

	s, out, _ := newScheduler(t)
	s.Reset()
	if out.CallCountOpen() != 0 {
		t.Errorf("Reset opened the output device")
	}
}

func TestOutput_OpenedLazilyAndReleased(t *testing.T) {
	t.Parallel()

	s, out, _ := newScheduler(t)
	if out.CallCountOpen() != 0 {
		t.Fatal("New must not open the output device")
	}

	mustEnqueue(t, s, pcm(ms(100)))
	mustEnqueue(t, s, pcm(ms(100)))
	if out.CallCountOpen() != 1 {
		t.Errorf("opened %d times, want 1", out.CallCountOpen())
	}

	s.Release()
	s.Release()
	if !out.Closed() || out.CallCountClose() != 1 {
		t.Errorf("closed=%v closeCount=%d, want closed once", out.Closed(), out.CallCountClose())
	}

	// A reopened device starts a new cursor at its clock.
	out.Set(10 * time.Millisecond)
	seg := mustEnqueue(t, s, pcm(ms(100)))
	if out.CallCountOpen() != 2 {
		t.Errorf("opened %d times, want 2", out.CallCountOpen())
	}
	if seg.Start != 10*time.Millisecond {
		t.Errorf("start after reopen = %v, want 10ms", seg.Start)
	}
}

func TestEnqueue_OutputUnavailable(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{OpenError: errors.New("no sound card")}
	s := playback.New(audio.NewContext(nil, out.Opener()))

	_, err := s.Enqueue(pcm(10))
	var dev *bridge.DeviceAccessError
	if !errors.As(err, &dev) {
		t.Fatalf("err = %v, want *bridge.DeviceAccessError", err)
	}

	s = playback.New(audio.NewContext(nil, nil))
	if _, err := s.Enqueue(pcm(10)); !errors.Is(err, audio.ErrNoOutput) {
		t.Errorf("err = %v, want audio.ErrNoOutput", err)
	}
}

func TestEnqueue_ScheduleErrorKeepsCursor(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{ScheduleError: errors.New("device busy")}
	s := playback.New(audio.NewContext(nil, out.Opener()))

	if _, err := s.Enqueue(pcm(ms(100))); err == nil {
		t.Fatal("expected schedule error")
	}
	if got := s.Buffered(); got != 0 {
		t.Errorf("Buffered() = %v, want 0 after failed schedule", got)
	}
}

func TestEnqueue_ResamplesToDeviceRate(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{Rate: 48000}
	s := playback.New(audio.NewContext(nil, out.Opener()))

	seg := mustEnqueue(t, s, pcm(ms(100)))
	if seg.Duration != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", seg.Duration)
	}
	if seg.Samples != 4800 {
		t.Errorf("samples = %d, want 4800", seg.Samples)
	}
}
