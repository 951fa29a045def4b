package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/noah-isme/payment-relay/internal/common"
)

// Probe checks a single dependency within the given timeout.
type Probe func(ctx context.Context, timeout time.Duration) error

var draining atomic.Bool

// SetReady toggles readiness; the API flips it off when shutdown begins so load
// balancers stop routing new webhooks before in-flight ones finish.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Probes maps dependency names (db, redis) to their checks. Dependencies
	// the relay runs without are simply absent.
	Probes  map[string]Probe
	Timeout time.Duration
}

// Root answers the bare service check on GET /.
func (h Handler) Root(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for _, name := range names {
		result := "ok"
		if err := h.Probes[name](r.Context(), h.timeout()); err != nil {
			result = err.Error()
			code = http.StatusServiceUnavailable
			status["status"] = "degraded"
		}
		status[name] = result
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
