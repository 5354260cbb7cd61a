// Package health serves the liveness and readiness probes of the bridge.
//
//   - /healthz reports the process is up and echoes the bridge state.
//   - /readyz returns 200 only when every registered [Checker] passes;
//     [SessionLive] makes readiness track the remote session.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/lingobridge/pkg/bridge"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// ErrNotLive is reported by [SessionLive] while the session is not
// connected.
var ErrNotLive = errors.New("health: session not live")

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// SessionLive returns a [Checker] that passes while state reports a live
// (connected or recording) session.
func SessionLive(state func() bridge.State) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			if st := state(); !st.Live() {
				return fmt.Errorf("%w: state %s", ErrNotLive, st)
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	state    func() bridge.State
}

// Option configures a [Handler].
type Option func(*Handler)

// WithState makes /healthz include the current bridge state.
func WithState(state func() bridge.State) Option {
	return func(h *Handler) { h.state = state }
}

// WithCheckers appends readiness checkers, evaluated in order.
func WithCheckers(checkers ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, checkers...) }
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200 OK while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.state != nil {
		res.State = h.state().String()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz returns 200 only when every checker passes, 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if h.state != nil {
		res.State = h.state().String()
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
