package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger is implemented by dependencies that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checks map[string]Pinger
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithCheck registers a named dependency for the readiness probe.
func WithCheck(name string, p Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.checks[name] = p
	}
}

// WithDatabase registers the database readiness check.
func WithDatabase(db Pinger) HealthHandlerOption {
	return WithCheck("database", db)
}

// WithRedis registers the Redis readiness check.
func WithRedis(redis Pinger) HealthHandlerOption {
	return WithCheck("redis", redis)
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents a single dependency check.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health handles the liveness probe.
// @Summary      Liveness probe
// @Description  Returns 200 as long as the process is serving requests
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /healthz [get]
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Ready handles the readiness probe. Every registered dependency is pinged
// concurrently; any failure turns the response into a 503.
// @Summary      Readiness probe
// @Description  Pings all registered dependencies and returns 503 if any are unhealthy
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /readyz [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]CheckResult, len(h.checks))
	allHealthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, pinger := range h.checks {
		wg.Add(1)
		go func(name string, pinger Pinger) {
			defer wg.Done()
			result := checkDependency(ctx, pinger)
			mu.Lock()
			results[name] = result
			if result.Status != "ok" {
				allHealthy = false
			}
			mu.Unlock()
		}(name, pinger)
	}
	wg.Wait()

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	})
}

func checkDependency(ctx context.Context, pinger Pinger) CheckResult {
	start := time.Now()
	if err := pinger.Ping(ctx); err != nil {
		return CheckResult{
			Status:   "error",
			Duration: time.Since(start).String(),
			Error:    err.Error(),
		}
	}
	return CheckResult{
		Status:   "ok",
		Duration: time.Since(start).String(),
	}
}
