package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Pinger is anything whose reachability gates readiness (the SQL store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker manages liveness and readiness state.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
	deps      map[string]Pinger
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		deps:      make(map[string]Pinger),
	}
}

// AddDependency registers a dependency checked on every readiness probe.
// Call before serving traffic.
func (h *HealthChecker) AddDependency(name string, p Pinger) {
	h.deps[name] = p
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once SetReady(true) was called and every
// dependency answers a ping, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := make(map[string]string)
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "failed": failed})
		return
	}
	writeHealth(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func writeHealth(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
