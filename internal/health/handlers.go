package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the process-wide readiness flag; it is cleared on shutdown so
// load balancers stop routing to a draining terminal.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the readiness flag.
func IsReady() bool {
	return ready.Load()
}

// Probe checks a single dependency.
type Probe func(ctx context.Context, timeout time.Duration) error

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		probe := h.Probes[name]
		if probe == nil {
			continue
		}
		status[name] = "ok"
		if err := probe(ctx, h.timeout()); err != nil {
			status[name] = err.Error()
			healthy = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.Timeout
}
