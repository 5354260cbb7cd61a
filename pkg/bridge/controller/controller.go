// Package controller implements the Session Controller: the state machine
// that coordinates capture, transport and playback into one push-to-talk
// session exposed to user interfaces.
//
// States move IDLE → CONNECTING → CONNECTED ⇄ RECORDING → DISCONNECTED.
// DISCONNECTED ends a transport session; the next [Controller.Connect]
// constructs a fresh one. Recording is never active unless the transport is
// connected. Out-of-order calls are rejected with descriptive errors, while
// [Controller.StopRecording] and [Controller.Disconnect] are idempotent and
// never fail.
//
// Connect and StartRecording suspend (websocket handshake, microphone
// acquisition). Every transition bumps a generation counter; a suspended call
// whose generation is stale when it resumes releases what it acquired and
// returns [bridge.ErrSessionClosed] instead of acting on it.
//
// Observable changes are published as [bridge.Event]s, delivered in order to
// the handlers registered with [Controller.OnEvent].
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/bridge"
	"github.com/MrWong99/lingobridge/pkg/bridge/capture"
	"github.com/MrWong99/lingobridge/pkg/bridge/playback"
	"github.com/MrWong99/lingobridge/pkg/bridge/transport"
	"github.com/MrWong99/lingobridge/pkg/bridge/wire"
)

// ErrSwitchUnsupported is returned by [Controller.SwitchContext] when the
// dialect of the live session cannot change its parameters in place. The
// new parameters are still stored and used by the next connect.
var ErrSwitchUnsupported = errors.New("controller: dialect cannot switch context on a live session")

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithTransportOptions sets options applied to every transport session.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Controller) { c.transportOpts = append(c.transportOpts, opts...) }
}

// WithCaptureOptions sets options for the capture pipeline.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(c *Controller) { c.captureOpts = append(c.captureOpts, opts...) }
}

// WithPlaybackOptions sets options for the playback scheduler.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(c *Controller) { c.playbackOpts = append(c.playbackOpts, opts...) }
}

// WithRecorder sets the metrics recorder shared by all components.
func WithRecorder(r bridge.Recorder) Option {
	return func(c *Controller) { c.rec = r }
}

// WithSetup sets the initial session parameters announced on connect.
func WithSetup(setup wire.Setup) Option {
	return func(c *Controller) { c.setup = setup }
}

// ── Controller ────────────────────────────────────────────────────────────────

// Controller owns one bridge: an audio context, a capture pipeline, a
// playback scheduler and at most one live transport session.
//
// All methods are safe for concurrent use.
type Controller struct {
	endpoint      string
	transportOpts []transport.Option
	captureOpts   []capture.Option
	playbackOpts  []playback.Option
	rec           bridge.Recorder

	capture  *capture.Pipeline
	playback *playback.Scheduler

	mu       sync.Mutex
	state    bridge.State
	gen      uint64
	session  *transport.Session
	setup    wire.Setup
	lastErr  error
	handlers []func(bridge.Event)
	pending  []bridge.Event

	// playMu orders enqueues from the dispatch goroutine against playback
	// resets, so no stale payload is scheduled after a reset.
	playMu sync.Mutex

	emitMu sync.Mutex
}

// New creates an idle controller for endpoint playing and capturing through
// actx.
func New(endpoint string, actx *audio.Context, opts ...Option) *Controller {
	c := &Controller{
		endpoint: endpoint,
		rec:      bridge.NopRecorder{},
		state:    bridge.StateIdle,
	}
	for _, o := range opts {
		o(c)
	}

	captureOpts := append([]capture.Option{capture.WithRecorder(c.rec)}, c.captureOpts...)
	captureOpts = append(captureOpts, capture.WithOnDeviceError(c.captureFailed))
	c.capture = capture.New(actx, captureOpts...)

	playbackOpts := append([]playback.Option{playback.WithRecorder(c.rec)}, c.playbackOpts...)
	c.playback = playback.New(actx, playbackOpts...)
	return c
}

// ── Observable state ──────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() bridge.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the transport is established.
func (c *Controller) Connected() bool { return c.State().Live() }

// IsRecording reports whether the microphone is streaming.
func (c *Controller) IsRecording() bool { return c.State() == bridge.StateRecording }

// Level returns the audio level of the last captured frame in [0, 1].
func (c *Controller) Level() float64 { return c.capture.Level() }

// Buffered returns how much synthesised speech is scheduled but not played.
func (c *Controller) Buffered() time.Duration { return c.playback.Buffered() }

// SessionID returns the ID of the current or most recent transport session,
// or "" before the first connect.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// Setup returns the current session parameters.
func (c *Controller) Setup() wire.Setup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setup
}

// LastError returns the error that ended the most recent session or connect
// attempt, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnEvent registers a handler for controller events. Handlers are called in
// registration order, one event at a time in the order events occurred. They
// may call controller methods but must not block.
func (c *Controller) OnEvent(fn func(bridge.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// ── Connection lifecycle ──────────────────────────────────────────────────────

// Connect opens a fresh transport session. It suspends until the session is
// established or fails; ctx bounds only the establishment.
//
// Connect while CONNECTING, CONNECTED or RECORDING returns
// [bridge.ErrAlreadyConnected]. A failed handshake leaves the controller
// DISCONNECTED with a [*bridge.ConnectionError]; calling Connect again
// retries with a new session. If Disconnect is called while Connect is
// suspended, Connect returns [bridge.ErrSessionClosed].
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != bridge.StateIdle && c.state != bridge.StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("controller: connect in state %s: %w", st, bridge.ErrAlreadyConnected)
	}
	c.gen++
	gen := c.gen
	opts := append([]transport.Option{
		transport.WithSetup(c.setup),
		transport.WithRecorder(c.rec),
	}, c.transportOpts...)
	sess := transport.New(c.endpoint, opts...)
	c.session = sess
	c.lastErr = nil
	c.transitionLocked(bridge.StateConnecting)
	c.mu.Unlock()
	c.flushEvents()

	err := sess.Connect(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sess.Disconnect()
		slog.Debug("controller: discarding stale connect", "session_id", sess.ID())
		return bridge.ErrSessionClosed
	}
	if err != nil {
		c.gen++
		c.lastErr = err
		c.transitionLocked(bridge.StateDisconnected)
		c.queueLocked(bridge.Event{Type: bridge.EventDisconnected, Err: err})
		c.mu.Unlock()
		c.flushEvents()
		return err
	}
	c.transitionLocked(bridge.StateConnected)
	c.mu.Unlock()
	c.flushEvents()

	go c.dispatch(sess, gen)
	return nil
}

// Disconnect stops recording, ends the transport session and releases the
// output device. It is idempotent, never fails, and abandons a connect or
// microphone acquisition still in flight.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == bridge.StateIdle || c.state == bridge.StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess := c.session
	c.transitionLocked(bridge.StateDisconnected)
	c.mu.Unlock()

	c.teardown(sess)

	c.mu.Lock()
	c.queueLocked(bridge.Event{Type: bridge.EventDisconnected})
	c.mu.Unlock()
	c.flushEvents()
}

// teardown releases everything a session held: the microphone, the
// transport, and the scheduled playback.
func (c *Controller) teardown(sess *transport.Session) {
	c.capture.Stop()
	if sess != nil {
		sess.Disconnect()
	}
	c.playMu.Lock()
	c.playback.Reset()
	c.playback.Release()
	c.playMu.Unlock()
}

// ── Recording ─────────────────────────────────────────────────────────────────

// StartRecording acquires the microphone and starts streaming frames. It
// suspends until the microphone is granted; ctx bounds only that wait.
//
// Outside CONNECTED it fails with a [*bridge.NotConnectedError] (or
// [bridge.ErrAlreadyRecording] while RECORDING) without touching the device.
// A refused microphone yields a [*bridge.DeviceAccessError] and the state
// stays CONNECTED.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case bridge.StateConnected:
	case bridge.StateRecording:
		c.mu.Unlock()
		return bridge.ErrAlreadyRecording
	default:
		st := c.state
		c.mu.Unlock()
		return &bridge.NotConnectedError{Op: "start recording", State: st}
	}
	gen := c.gen
	sess := c.session
	c.mu.Unlock()

	err := c.capture.Start(ctx, sess)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			c.capture.Stop()
		}
		return bridge.ErrSessionClosed
	}
	if err != nil {
		c.mu.Unlock()
		if !errors.Is(err, capture.ErrStopped) {
			slog.Warn("controller: start recording failed", "session_id", sess.ID(), "err", err)
		}
		return err
	}
	if !c.capture.Recording() {
		// The stream failed before the transition.
		c.mu.Unlock()
		return &bridge.DeviceAccessError{Device: "input", Err: capture.ErrStreamEnded}
	}
	c.transitionLocked(bridge.StateRecording)
	c.mu.Unlock()
	c.flushEvents()
	return nil
}

// StopRecording stops the microphone, discards the partial frame and, when
// the dialect has one, sends the end-of-turn marker. It is idempotent and
// never fails; called while the microphone is still being acquired it
// abandons the acquisition.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	if c.state != bridge.StateRecording {
		c.mu.Unlock()
		c.capture.Stop()
		return
	}
	sess := c.session
	c.transitionLocked(bridge.StateConnected)
	c.mu.Unlock()

	c.capture.Stop()
	if msg, ok := sess.Dialect().EndTurn(); ok {
		if err := sess.SendControl(msg); err != nil {
			slog.Debug("controller: end of turn not sent", "session_id", sess.ID(), "err", err)
		}
	}
	c.flushEvents()
}

// captureFailed runs on the capture goroutine when the microphone fails
// mid-recording. The session stays connected.
func (c *Controller) captureFailed(err error) {
	c.mu.Lock()
	if c.state != bridge.StateRecording {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(bridge.StateConnected)
	c.queueLocked(bridge.Event{Type: bridge.EventDeviceError, Err: err})
	c.mu.Unlock()
	c.flushEvents()
}

// ── Context switch ────────────────────────────────────────────────────────────

// SwitchContext changes the session parameters (language, topic, mode).
// Scheduled speech belonging to the old context is discarded. On a live
// session the dialect's context message is sent; dialects that cannot switch
// in place return [ErrSwitchUnsupported] and the caller may reconnect. The
// parameters are kept for the next connect either way.
func (c *Controller) SwitchContext(setup wire.Setup) error {
	c.mu.Lock()
	c.setup = setup
	sess := c.session
	live := c.state.Live()
	c.mu.Unlock()

	c.playMu.Lock()
	c.playback.Reset()
	c.playMu.Unlock()

	if !live {
		return nil
	}
	msg, ok, err := sess.Dialect().ContextSwitch(setup)
	if err != nil {
		return fmt.Errorf("controller: switch context: %w", err)
	}
	if !ok {
		return ErrSwitchUnsupported
	}
	if err := sess.SendControl(msg); err != nil {
		return fmt.Errorf("controller: switch context: %w", err)
	}
	slog.Info("controller: context switched",
		"session_id", sess.ID(),
		"language", setup.Language,
		"topic", setup.Topic,
		"mode", setup.Mode,
	)
	return nil
}

// ── Inbound dispatch ──────────────────────────────────────────────────────────

// dispatch consumes the inbound messages of one session in receipt order
// until the session ends, then handles a remote close.
func (c *Controller) dispatch(sess *transport.Session, gen uint64) {
	for in := range sess.Inbound() {
		switch in.Kind {
		case wire.KindAudio:
			c.play(sess, gen, in.Payload)
		case wire.KindControl:
			c.mu.Lock()
			if c.gen == gen {
				c.queueLocked(bridge.Event{
					Type:        bridge.EventControl,
					ControlType: in.Type,
					Control:     in.Control,
				})
			}
			c.mu.Unlock()
			c.flushEvents()
		}
	}

	<-sess.Done()
	c.mu.Lock()
	if c.gen != gen {
		// Ended locally; Disconnect has cleaned up.
		c.mu.Unlock()
		return
	}
	c.gen++
	cause := sess.Err()
	c.lastErr = cause
	c.transitionLocked(bridge.StateDisconnected)
	c.mu.Unlock()

	slog.Warn("controller: session ended by remote", "session_id", sess.ID(), "err", cause)
	c.teardown(nil)

	c.mu.Lock()
	c.queueLocked(bridge.Event{Type: bridge.EventDisconnected, Err: cause})
	c.mu.Unlock()
	c.flushEvents()
}

func (c *Controller) play(sess *transport.Session, gen uint64, payload audio.Payload) {
	c.playMu.Lock()
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		c.playMu.Unlock()
		return
	}
	_, err := c.playback.Enqueue(payload)
	c.playMu.Unlock()
	if err == nil {
		return
	}

	ev := bridge.Event{Type: bridge.EventDecodeError, Err: err}
	var dev *bridge.DeviceAccessError
	if errors.As(err, &dev) {
		ev.Type = bridge.EventDeviceError
		slog.Warn("controller: output device unavailable", "session_id", sess.ID(), "err", err)
	}
	c.mu.Lock()
	c.queueLocked(ev)
	c.mu.Unlock()
	c.flushEvents()
}

// ── Events ────────────────────────────────────────────────────────────────────

// transitionLocked moves to next and queues a state-change event.
func (c *Controller) transitionLocked(next bridge.State) {
	prev := c.state
	c.state = next
	c.queueLocked(bridge.Event{Type: bridge.EventStateChanged, Prev: prev})
	slog.Debug("controller: state changed", "from", prev.String(), "to", next.String())
}

// queueLocked stamps ev with the current state and session and queues it for
// delivery.
func (c *Controller) queueLocked(ev bridge.Event) {
	if ev.Type != bridge.EventStateChanged {
		ev.Prev = c.state
	}
	ev.State = c.state
	if c.session != nil {
		ev.SessionID = c.session.ID()
	}
	ev.Time = time.Now()
	c.pending = append(c.pending, ev)
}

// flushEvents delivers queued events. Only one goroutine delivers at a time;
// a caller that finds delivery in progress leaves its events to the active
// deliverer, which drains until the queue is empty. This keeps delivery in
// queue order and lets handlers call back into the controller.
func (c *Controller) flushEvents() {
	for {
		if !c.emitMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			evs := c.pending
			c.pending = nil
			handlers := c.handlers
			c.mu.Unlock()
			if len(evs) == 0 {
				break
			}
			for _, ev := range evs {
				for _, h := range handlers {
					h(ev)
				}
			}
		}
		c.emitMu.Unlock()

		c.mu.Lock()
		empty := len(c.pending) == 0
		c.mu.Unlock()
		if empty {
			return
		}
	}
}
