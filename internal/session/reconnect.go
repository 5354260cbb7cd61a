// Package session holds caller-side policies that sit on top of the bridge
// controller. The controller never reconnects on its own; [Reconnector] is
// the opt-in policy that does.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingobridge/internal/resilience"
	"github.com/MrWong99/lingobridge/pkg/bridge"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrRetriesExhausted is passed to OnGiveUp when every attempt failed.
var ErrRetriesExhausted = errors.New("session: reconnect retries exhausted")

// Connector is the part of the controller the reconnector drives.
type Connector interface {
	Connect(ctx context.Context) error
	State() bridge.State
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// MaxRetries is the maximum number of attempts per drop. Defaults to 10
	// if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Breaker, when set, guards every attempt. It outlives a single drop, so
	// an endpoint that keeps refusing is left alone for the breaker's
	// cooldown instead of being retried on every drop. May be nil.
	Breaker *resilience.Breaker

	// OnReconnect is called after a successful attempt. May be nil.
	OnReconnect func(attempt int)

	// OnGiveUp is called when retries are exhausted. May be nil.
	OnGiveUp func(err error)
}

// Reconnector re-establishes a session that dropped while live.
//
// Feed it controller events through [Reconnector.Observe] and run
// [Reconnector.Run] in the background. Only a session that reached CONNECTED
// and then ended with an error counts as a drop; a failed first connect and a
// user-requested disconnect do not. [Reconnector.Cancel] abandons an attempt
// in progress, e.g. when the user disconnects during the backoff.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	target      Connector
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	breaker     *resilience.Breaker
	onReconnect func(int)
	onGiveUp    func(error)

	mu         sync.Mutex
	wasLive    bool
	attempting bool
	cancel     context.CancelFunc

	dropped chan struct{}
}

// NewReconnector creates a [Reconnector] driving target.
func NewReconnector(target Connector, cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		target:      target,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		breaker:     cfg.Breaker,
		onReconnect: cfg.OnReconnect,
		onGiveUp:    cfg.OnGiveUp,
		dropped:     make(chan struct{}, 1),
	}
}

// Observe is a controller event handler. It never blocks.
func (r *Reconnector) Observe(ev bridge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case bridge.EventStateChanged:
		if ev.State.Live() {
			r.wasLive = true
			if r.breaker != nil {
				r.breaker.Record(nil)
			}
		}
	case bridge.EventDisconnected:
		drop := r.wasLive && ev.Err != nil && !r.attempting
		r.wasLive = false
		if !drop {
			return
		}
		slog.Info("reconnector: session dropped", "session_id", ev.SessionID, "err", ev.Err)
		select {
		case r.dropped <- struct{}{}:
		default:
		}
	}
}

// Cancel abandons the current attempt, if any, and forgets a pending drop.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-r.dropped:
	default:
	}
}

// Run handles drops until ctx is cancelled. It always returns nil.
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.dropped:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.attempting = true
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.attempting = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	wait := r.backoff
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			slog.Info("reconnector: attempt abandoned")
			return
		case <-time.After(wait):
		}

		if r.target.State().Live() {
			// Reconnected by someone else meanwhile.
			return
		}

		slog.Info("reconnector: attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
		)
		err := r.connect(ctx)
		if err == nil {
			slog.Info("reconnector: reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(attempt)
			}
			return
		}
		if errors.Is(err, bridge.ErrAlreadyConnected) {
			return
		}
		lastErr = err
		if errors.Is(err, resilience.ErrOpen) {
			slog.Warn("reconnector: endpoint circuit open, attempt skipped", "attempt", attempt)
		} else {
			slog.Warn("reconnector: attempt failed", "attempt", attempt, "err", err)
		}

		wait = min(wait*2, r.maxBackoff)
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.maxRetries, lastErr)
	slog.Error("reconnector: giving up", "err", err)
	if r.onGiveUp != nil {
		r.onGiveUp(err)
	}
}

// connect runs one attempt through the breaker, if any. An already live
// target counts as success.
func (r *Reconnector) connect(ctx context.Context) error {
	if r.breaker == nil {
		return r.target.Connect(ctx)
	}
	var connErr error
	err := r.breaker.Do(func() error {
		connErr = r.target.Connect(ctx)
		if errors.Is(connErr, bridge.ErrAlreadyConnected) {
			return nil
		}
		return connErr
	})
	if err != nil {
		return err
	}
	return connErr
}
