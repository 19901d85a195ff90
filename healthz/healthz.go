// Package healthz provides liveness and readiness endpoints for the debug
// server.
package healthz

import (
	"net/http"
	"sync/atomic"
)

// Handler answers health probes.  It starts unready; the main wires call
// SetReady once the backing clients are up.
type Handler struct {
	ready atomic.Bool
}

// New returns a Handler that reports ready immediately.  Use NewGated for a
// handler that waits for SetReady.
func New() *Handler {
	h := &Handler{}
	h.ready.Store(true)
	return h
}

// NewGated returns a Handler that reports 503 until SetReady is called.
func NewGated() *Handler {
	return &Handler{}
}

// SetReady flips the handler into the ready state.
func (h *Handler) SetReady() {
	h.ready.Store(true)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("200 OK"))
}
