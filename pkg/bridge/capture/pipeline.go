// Package capture implements the Capture Pipeline: it acquires the
// microphone, converts hardware audio to the wire format and hands fixed-size
// frames to the transport while recording is active.
//
// Conversion (down-mix and resampling) runs synchronously in the capture
// goroutine before a frame is handed off. A conversion that takes longer than
// one frame interval is logged, since the backlog would otherwise grow without
// bound.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/audio/opus"
	"github.com/MrWong99/lingobridge/pkg/bridge"
)

const (
	// DefaultFrameInterval is the amount of audio carried by one frame.
	DefaultFrameInterval = 100 * time.Millisecond

	// DefaultSampleRate is the wire sample rate of captured audio.
	DefaultSampleRate = 16000
)

// Codec selects how frames are encoded.
type Codec string

const (
	// CodecPCM sends raw PCM16 frames.
	CodecPCM Codec = "pcm"

	// CodecOpus sends containers of length-prefixed Opus packets.
	CodecOpus Codec = "opus"
)

var (
	// ErrStopped is returned by [Pipeline.Start] when Stop was called while
	// the microphone was still being acquired. The late device is released.
	ErrStopped = errors.New("capture: stopped during device acquisition")

	// ErrStreamEnded is the cause reported when the input stream ends while
	// recording.
	ErrStreamEnded = errors.New("capture: input stream ended")
)

// Sink receives captured frames. [*transport.Session] satisfies it.
type Sink interface {
	State() bridge.State
	Send(frame audio.AudioFrame) error
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithFrameInterval sets the frame cadence. Defaults to [DefaultFrameInterval].
func WithFrameInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSampleRate sets the wire sample rate. Defaults to [DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithCodec sets the frame codec. Defaults to [CodecPCM].
func WithCodec(c Codec) Option {
	return func(p *Pipeline) { p.codec = c }
}

// WithRecorder sets the metrics recorder. Defaults to [bridge.NopRecorder].
func WithRecorder(r bridge.Recorder) Option {
	return func(p *Pipeline) { p.rec = r }
}

// WithOnDeviceError registers a callback invoked when the microphone fails
// while recording. Recording has already stopped when it runs. The callback
// runs on the capture goroutine and must not call [Pipeline.Stop].
func WithOnDeviceError(fn func(error)) Option {
	return func(p *Pipeline) { p.onDeviceError = fn }
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

// Pipeline captures microphone audio into frames. Recording spans are
// started and stopped explicitly; the microphone is held only while a span is
// active.
//
// All methods are safe for concurrent use.
type Pipeline struct {
	actx          *audio.Context
	interval      time.Duration
	rate          int
	codec         Codec
	rec           bridge.Recorder
	onDeviceError func(error)

	mu         sync.Mutex
	gen        uint64 // bumped by every Stop; invalidates in-flight starts
	starting   bool
	cancelOpen context.CancelFunc
	run        *span

	level atomic.Uint64 // math.Float64bits of the last frame RMS
}

// span is one active recording.
type span struct {
	stream audio.InputStream
	stop   chan struct{}
	done   chan struct{}
}

// New creates an idle pipeline capturing from the input of actx.
func New(actx *audio.Context, opts ...Option) *Pipeline {
	p := &Pipeline{
		actx:     actx,
		interval: DefaultFrameInterval,
		rate:     DefaultSampleRate,
		codec:    CodecPCM,
		rec:      bridge.NopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FrameSamples returns the number of wire samples in one frame.
func (p *Pipeline) FrameSamples() int {
	return int(int64(p.rate) * int64(p.interval) / int64(time.Second))
}

// Recording reports whether a recording span is active.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil
}

// Level returns the RMS level in [0, 1] of the last captured frame, or 0 when
// not recording.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// Start begins a recording span sending frames to sink.
//
// The sink must be [bridge.StateConnected], otherwise a
// [*bridge.NotConnectedError] is returned and nothing is acquired. Start
// suspends while the microphone is acquired; ctx bounds only that
// acquisition. A refused or missing microphone yields a
// [*bridge.DeviceAccessError]. If Stop is called meanwhile, the late device
// is released and [ErrStopped] returned.
func (p *Pipeline) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	if p.run != nil || p.starting {
		p.mu.Unlock()
		return bridge.ErrAlreadyRecording
	}
	if st := sink.State(); st != bridge.StateConnected {
		p.mu.Unlock()
		return &bridge.NotConnectedError{Op: "start recording", State: st}
	}
	in, err := p.actx.Input()
	if err != nil {
		p.mu.Unlock()
		return &bridge.DeviceAccessError{Device: "input", Err: err}
	}

	var enc *opus.Encoder
	if p.codec == CodecOpus {
		if enc, err = opus.NewEncoder(p.rate); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("capture: %w", err)
		}
	}

	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen := p.gen
	p.starting = true
	p.cancelOpen = cancel
	p.mu.Unlock()

	stream, err := in.Open(openCtx)

	p.mu.Lock()
	p.starting = false
	p.cancelOpen = nil
	if p.gen != gen {
		p.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		slog.Debug("capture: discarding device granted after stop", "device", in.Name())
		return ErrStopped
	}
	if err != nil {
		p.mu.Unlock()
		return &bridge.DeviceAccessError{Device: in.Name(), Err: err}
	}

	sp := &span{
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.run = sp
	p.mu.Unlock()

	slog.Info("capture: recording started",
		"device", in.Name(),
		"hw_format", stream.Format().String(),
		"wire_rate", p.rate,
		"codec", string(p.codec),
		"frame_interval", p.interval,
	)

	go p.loop(sp, gen, sink, enc)
	return nil
}

// Stop ends the active recording span: the microphone is released and any
// partially filled frame discarded. A start still acquiring the device is
// abandoned. Stop is idempotent and never fails. When Stop returns no further
// frames are sent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.gen++
	if p.cancelOpen != nil {
		p.cancelOpen()
	}
	sp := p.run
	p.run = nil
	p.mu.Unlock()

	if sp == nil {
		return
	}
	close(sp.stop)
	<-sp.done
	p.level.Store(0)
	slog.Info("capture: recording stopped")
}

// loop reads hardware buffers, converts them and emits frames. It owns the
// stream and closes it on exit.
func (p *Pipeline) loop(sp *span, gen uint64, sink Sink, enc *opus.Encoder) {
	defer close(sp.done)
	defer func() { _ = sp.stream.Close() }()

	conv := &audio.Converter{Target: audio.Format{SampleRate: p.rate, Channels: 1}}
	format := sp.stream.Format()
	frameSamples := p.FrameSamples()
	buf := make([]float32, 0, 2*frameSamples)
	var seq uint64

	for {
		select {
		case <-sp.stop:
			return
		case samples, ok := <-sp.stream.Samples():
			if !ok {
				p.streamEnded(sp, gen)
				return
			}

			start := time.Now()
			mono := conv.Convert(samples, format)
			took := time.Since(start)
			p.rec.CaptureConverted(took)
			if took > p.interval {
				slog.Warn("capture: conversion slower than one frame interval",
					"took", took,
					"interval", p.interval,
					"samples", len(samples),
				)
			}

			buf = append(buf, mono...)
			for len(buf) >= frameSamples {
				select {
				case <-sp.stop:
					return
				default:
				}
				p.emit(sink, enc, buf[:frameSamples], seq)
				seq++
				buf = append(buf[:0], buf[frameSamples:]...)
			}
		}
	}
}

func (p *Pipeline) emit(sink Sink, enc *opus.Encoder, samples []float32, seq uint64) {
	p.level.Store(math.Float64bits(audio.RMS(samples)))

	frame := audio.AudioFrame{
		Encoding:   audio.EncodingPCM16,
		SampleRate: p.rate,
		Channels:   1,
		Seq:        seq,
		Timestamp:  time.Duration(seq) * p.interval,
		Duration:   p.interval,
	}
	if enc != nil {
		data, err := enc.Encode(samples)
		if err != nil {
			p.rec.FrameDropped(bridge.DropEncode)
			slog.Warn("capture: opus encode failed, dropping frame", "seq", seq, "err", err)
			return
		}
		frame.Data = data
		frame.Encoding = audio.EncodingOpus
	} else {
		frame.Data = audio.EncodePCM16(samples)
	}

	// The transport logs and counts drops; a stale frame is not fatal here.
	if err := sink.Send(frame); err != nil {
		slog.Debug("capture: frame not sent", "seq", seq, "err", err)
	}
}

// streamEnded handles an input stream that closed while recording.
func (p *Pipeline) streamEnded(sp *span, gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.run != sp {
		p.mu.Unlock()
		return
	}
	p.run = nil
	p.mu.Unlock()

	p.level.Store(0)
	err := &bridge.DeviceAccessError{Device: "input", Err: ErrStreamEnded}
	slog.Warn("capture: input stream ended while recording", "err", err)
	if p.onDeviceError != nil {
		p.onDeviceError(err)
	}
}
