package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK       = "ok"
	healthStatusNotReady = "not ready"
)

// HealthChecker backs the /healthz and /readyz endpoints.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
}

// NewHealthChecker creates a checker that reports not-ready until the
// lifecycle marks it ready.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// SetReady flips the readiness state. Called once startup wiring completes
// and again when shutdown begins.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the server should receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse is the JSON body of the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

// LivenessHandler answers /healthz. Liveness only says the process is
// running, so it always returns 200.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers /readyz.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := HealthResponse{
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}
		if h.ready.Load() {
			response.Status = healthStatusOK
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = healthStatusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}
