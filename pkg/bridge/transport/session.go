// Package transport implements the Transport Session: one persistent
// websocket connection to the remote speech service.
//
// A [Session] is single-use. It moves IDLE → CONNECTING → CONNECTED →
// DISCONNECTED and never back; reconnecting means constructing a new
// Session. Outbound frames pass through a bounded FIFO drained by a single
// writer goroutine, so [Session.Send] never blocks the capture path. Inbound
// messages are classified once by the configured [wire.Dialect] and delivered
// in receipt order on [Session.Inbound].
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/bridge"
	"github.com/MrWong99/lingobridge/pkg/bridge/wire"
)

const (
	// DefaultSendQueue is the number of outbound messages buffered before
	// frames are dropped.
	DefaultSendQueue = 32

	// DefaultKeepalive is the interval between websocket pings.
	DefaultKeepalive = 20 * time.Second

	keepaliveTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	goodbyeTimeout   = time.Second

	// readLimit bounds one inbound message. Synthesised speech arrives in
	// chunks far larger than the library default of 32 KiB.
	readLimit = 8 << 20

	inboundBuffer = 64
)

// ErrBackpressure is returned by [Session.Send] when the write queue is full
// and the frame was dropped.
var ErrBackpressure = errors.New("transport: send queue full")

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithDialect sets the wire dialect. Defaults to [wire.PCMJSON].
func WithDialect(d wire.Dialect) Option {
	return func(s *Session) { s.dialect = d }
}

// WithSetup sets the parameters passed to the dialect handshake.
func WithSetup(setup wire.Setup) Option {
	return func(s *Session) { s.setup = setup }
}

// WithHTTPHeader adds headers to the websocket upgrade request.
func WithHTTPHeader(h http.Header) Option {
	return func(s *Session) { s.header = h }
}

// WithAPIKey appends the key as the "key" query parameter of the endpoint.
func WithAPIKey(key string) Option {
	return func(s *Session) { s.apiKey = key }
}

// WithSendQueue sets the outbound queue capacity. Defaults to
// [DefaultSendQueue].
func WithSendQueue(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithKeepalive sets the ping interval. Zero or negative disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(s *Session) { s.keepalive = d }
}

// WithRecorder sets the metrics recorder. Defaults to [bridge.NopRecorder].
func WithRecorder(r bridge.Recorder) Option {
	return func(s *Session) { s.rec = r }
}

// ── Session ───────────────────────────────────────────────────────────────────

type outbound struct {
	msg   wire.Message
	frame bool
}

// Session is one logical connection to the remote audio service.
// All methods are safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	endpoint  string

	dialect   wire.Dialect
	setup     wire.Setup
	header    http.Header
	apiKey    string
	queueSize int
	keepalive time.Duration
	rec       bridge.Recorder

	mu      sync.Mutex
	state   bridge.State
	conn    *websocket.Conn
	reading bool
	errVal  error

	ctx       context.Context
	cancel    context.CancelFunc
	sendq     chan outbound
	inbound   chan wire.Inbound
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an idle session for endpoint. Nothing is dialled until
// [Session.Connect].
func New(endpoint string, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		endpoint:  endpoint,
		dialect:   wire.PCMJSON{},
		queueSize: DefaultSendQueue,
		keepalive: DefaultKeepalive,
		rec:       bridge.NopRecorder{},
		state:     bridge.StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		inbound:   make(chan wire.Inbound, inboundBuffer),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.sendq = make(chan outbound, s.queueSize)
	return s
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was constructed.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Endpoint returns the endpoint the session connects to, without API key.
func (s *Session) Endpoint() string { return s.endpoint }

// Dialect returns the wire dialect in use.
func (s *Session) Dialect() wire.Dialect { return s.dialect }

// State returns the current connection state. A Session never reports
// [bridge.StateRecording]; recording is tracked by the controller.
func (s *Session) State() bridge.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Inbound returns the channel of classified inbound messages. It is closed
// when the session ends.
func (s *Session) Inbound() <-chan wire.Inbound { return s.inbound }

// Done is closed when the session reaches DISCONNECTED.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil for a local disconnect, a
// [*bridge.ConnectionError] for a failed handshake, remote close or
// transport error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Connect opens the websocket and sends the dialect handshake. It suspends
// until the connection is established or fails; ctx bounds only the
// establishment. On failure the session is DISCONNECTED and the error is a
// [*bridge.ConnectionError]. If [Session.Disconnect] is called while Connect
// is suspended, the late connection is closed and [bridge.ErrSessionClosed]
// is returned.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.mu.Lock()
	switch s.state {
	case bridge.StateIdle:
		s.state = bridge.StateConnecting
	case bridge.StateDisconnected:
		s.mu.Unlock()
		return bridge.ErrSessionClosed
	default:
		s.mu.Unlock()
		return bridge.ErrAlreadyConnected
	}
	s.mu.Unlock()

	start := time.Now()
	defer func() { s.rec.ConnectFinished(time.Since(start), err) }()

	// A Disconnect while suspended aborts the dial.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	stop := context.AfterFunc(s.ctx, cancelDial)
	defer stop()

	target, err := s.dialURL()
	if err != nil {
		return s.fail(err)
	}

	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		return s.fail(fmt.Errorf("dial: %w", err))
	}
	conn.SetReadLimit(readLimit)

	handshake, err := s.dialect.Handshake(s.setup)
	if err != nil {
		_ = conn.CloseNow()
		return s.fail(fmt.Errorf("handshake: %w", err))
	}
	for _, msg := range handshake {
		if err := s.write(dialCtx, conn, msg); err != nil {
			_ = conn.CloseNow()
			return s.fail(fmt.Errorf("handshake: %w", err))
		}
	}

	s.mu.Lock()
	if s.state == bridge.StateDisconnected {
		s.mu.Unlock()
		_ = conn.CloseNow()
		return bridge.ErrSessionClosed
	}
	s.state = bridge.StateConnected
	s.conn = conn
	s.reading = true
	s.mu.Unlock()

	s.rec.SessionOpened()
	go s.readLoop(conn)
	go s.writeLoop(conn)
	if s.keepalive > 0 {
		go s.keepaliveLoop(conn)
	}

	slog.Info("transport: session connected",
		"session_id", s.id,
		"endpoint", s.endpoint,
		"dialect", s.dialect.Name(),
		"connect_duration", time.Since(start),
	)
	return nil
}

// Send queues one frame for transmission and returns immediately. When the
// session is not CONNECTED the frame is dropped and a
// [*bridge.NotConnectedError] returned; when the queue is full the frame is
// dropped and [ErrBackpressure] returned. Frames are written in Send order.
func (s *Session) Send(frame audio.AudioFrame) error {
	if st := s.State(); st != bridge.StateConnected {
		s.rec.FrameDropped(bridge.DropNotConnected)
		slog.Debug("transport: dropping frame, not connected",
			"session_id", s.id,
			"seq", frame.Seq,
			"state", st.String(),
		)
		return &bridge.NotConnectedError{Op: "send", State: st}
	}

	msg, err := s.dialect.EncodeFrame(frame)
	if err != nil {
		s.rec.FrameDropped(bridge.DropEncode)
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	if !s.enqueue(outbound{msg: msg, frame: true}) {
		s.rec.FrameDropped(bridge.DropBackpressure)
		slog.Warn("transport: send queue full, dropping frame",
			"session_id", s.id,
			"seq", frame.Seq,
			"queue", s.queueSize,
		)
		return ErrBackpressure
	}
	return nil
}

// SendControl queues a non-audio message, such as an end-of-turn marker.
func (s *Session) SendControl(msg wire.Message) error {
	if st := s.State(); st != bridge.StateConnected {
		return &bridge.NotConnectedError{Op: "send control", State: st}
	}
	if !s.enqueue(outbound{msg: msg}) {
		return ErrBackpressure
	}
	return nil
}

func (s *Session) enqueue(o outbound) bool {
	select {
	case s.sendq <- o:
		return true
	default:
		return false
	}
}

// Disconnect closes the connection and moves the session to DISCONNECTED
// regardless of its prior state. It is idempotent and never fails. A
// connect still in flight is abandoned.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil && s.State() == bridge.StateConnected {
		if bye, ok := s.dialect.Goodbye(); ok {
			ctx, cancel := context.WithTimeout(s.ctx, goodbyeTimeout)
			_ = s.write(ctx, conn, bye)
			cancel()
		}
	}
	s.terminate(nil)
}

// fail ends a session whose connect attempt failed. An attempt abandoned by
// Disconnect reports [bridge.ErrSessionClosed] instead.
func (s *Session) fail(err error) error {
	if s.State() == bridge.StateDisconnected {
		return bridge.ErrSessionClosed
	}
	cerr := &bridge.ConnectionError{Endpoint: s.endpoint, Err: err}
	s.terminate(cerr)
	slog.Warn("transport: connect failed", "session_id", s.id, "endpoint", s.endpoint, "err", err)
	return cerr
}

// terminate moves the session to DISCONNECTED exactly once.
func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasLive := s.state == bridge.StateConnected
		s.state = bridge.StateDisconnected
		if s.errVal == nil {
			s.errVal = cause
		}
		conn := s.conn
		reading := s.reading
		s.mu.Unlock()

		s.cancel() // unblocks readLoop, writeLoop and keepaliveLoop
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		if !reading {
			close(s.inbound)
		}
		close(s.done)

		if wasLive {
			s.rec.SessionClosed()
			slog.Info("transport: session disconnected",
				"session_id", s.id,
				"remote", cause != nil,
				"err", cause,
			)
		}
	})
}

// readLoop classifies inbound messages and delivers them in receipt order.
// It owns the inbound channel and closes it on exit.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer close(s.inbound)

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.terminate(&bridge.ConnectionError{Endpoint: s.endpoint, Err: remoteCause(err)})
			return
		}

		mt := wire.MessageText
		if typ == websocket.MessageBinary {
			mt = wire.MessageBinary
		}
		for _, in := range s.dialect.Classify(wire.Message{Type: mt, Data: data}) {
			select {
			case s.inbound <- in:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// writeLoop is the only writer of queued messages, so frames leave in
// production order.
func (s *Session) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.sendq:
			if err := s.write(s.ctx, conn, o.msg); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.terminate(&bridge.ConnectionError{Endpoint: s.endpoint, Err: fmt.Errorf("write: %w", err)})
				return
			}
			if o.frame {
				s.rec.FrameSent()
			}
		}
	}
}

// keepaliveLoop pings the peer so idle sessions survive proxies.
func (s *Session) keepaliveLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				slog.Debug("transport: keepalive ping failed", "session_id", s.id, "err", err)
			}
			cancel()
		}
	}
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, msg wire.Message) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	typ := websocket.MessageText
	if msg.Type == wire.MessageBinary {
		typ = websocket.MessageBinary
	}
	return conn.Write(wctx, typ, msg.Data)
}

func (s *Session) dialURL() (string, error) {
	if s.apiKey == "" {
		return s.endpoint, nil
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", s.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ErrRemoteClosed is the cause of a session the peer closed normally.
var ErrRemoteClosed = errors.New("transport: closed by remote")

func remoteCause(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return fmt.Errorf("%w: %w", ErrRemoteClosed, err)
	default:
		return err
	}
}
