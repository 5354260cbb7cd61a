package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestDownmixToMono(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.DownmixToMono([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDownmixToMono_MonoPassthrough(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2}
	got := audio.DownmixToMono(in, 1)
	if &got[0] != &in[0] {
		t.Error("expected mono input to be returned unchanged")
	}
}

func TestResampleMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      int
		src     int
		dst     int
		wantLen int
	}{
		{name: "same rate", in: 480, src: 48000, dst: 48000, wantLen: 480},
		{name: "48k to 16k", in: 4800, src: 48000, dst: 16000, wantLen: 1600},
		{name: "44.1k to 16k", in: 4410, src: 44100, dst: 16000, wantLen: 1600},
		{name: "16k to 24k", in: 1600, src: 16000, dst: 24000, wantLen: 2400},
		{name: "invalid rate", in: 100, src: 0, dst: 16000, wantLen: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]float32, tt.in)
			for i := range in {
				in[i] = 0.25
			}
			out := audio.ResampleMono(in, tt.src, tt.dst)
			if len(out) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(out), tt.wantLen)
			}
			for i, s := range out {
				if !approxEqual(s, 0.25) {
					t.Fatalf("sample %d = %f, want constant 0.25", i, s)
				}
			}
		})
	}
}

func TestResampleMono_Interpolates(t *testing.T) {
	t.Parallel()
	// Upsampling 2x inserts midpoints.
	out := audio.ResampleMono([]float32{0, 1, 0}, 8000, 16000)
	want := []float32{0, 0.5, 1, 0.5, 0, 0}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if !approxEqual(out[i], want[i]) {
			t.Errorf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestConverter_StereoHardwareToWireRate(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	// 10 ms of 48 kHz stereo.
	in := make([]float32, 480*2)
	for i := range in {
		in[i] = 0.5
	}
	out := c.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
	if !approxEqual(out[0], 0.5) {
		t.Errorf("out[0] = %f, want 0.5", out[0])
	}
}

func TestConverter_RaggedBufferTruncated(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := c.Convert([]float32{0.1, 0.1, 0.1}, audio.Format{SampleRate: 16000, Channels: 2})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
}

func TestConverter_FastPath(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := []float32{0.1, 0.2, 0.3}
	out := c.Convert(in, audio.Format{SampleRate: 16000, Channels: 1})
	if &out[0] != &in[0] {
		t.Error("expected matching format to return input unchanged")
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
