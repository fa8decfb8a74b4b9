package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// Checker runs the registered checks. Liveness checks decide whether the
// process should be restarted; readiness checks decide whether it is doing
// useful work.
type Checker struct {
	mu        sync.RWMutex
	liveness  map[string]HealthCheck
	readiness map[string]HealthCheck
	timeout   time.Duration
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		liveness:  make(map[string]HealthCheck),
		readiness: make(map[string]HealthCheck),
		timeout:   timeout,
	}
}

// RegisterLiveness registers a check consulted by the liveness probe
func (c *Checker) RegisterLiveness(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness[name] = check
}

// RegisterReadiness registers a check consulted by the readiness probe
func (c *Checker) RegisterReadiness(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness[name] = check
}

// Unregister removes a check from both probes
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.liveness, name)
	delete(c.readiness, name)
}

// Live runs the liveness checks
func (c *Checker) Live(ctx context.Context) map[string]ComponentHealth {
	return c.run(ctx, c.liveness)
}

// Ready runs the readiness checks
func (c *Checker) Ready(ctx context.Context) map[string]ComponentHealth {
	return c.run(ctx, c.readiness)
}

func (c *Checker) run(ctx context.Context, set map[string]HealthCheck) map[string]ComponentHealth {
	c.mu.RLock()
	checks := make(map[string]HealthCheck, len(set))
	for k, v := range set {
		checks[k] = v
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
	)

	for name, check := range checks {
		wg.Add(1)
		go func(n string, chk HealthCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			result := chk(checkCtx)
			result.LastChecked = time.Now()

			resMu.Lock()
			results[n] = result
			resMu.Unlock()
		}(name, check)
	}

	wg.Wait()
	return results
}

// Overall folds component results into one status
func Overall(results map[string]ComponentHealth) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// HealthResponse represents the HTTP response for health checks
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

func writeResponse(w http.ResponseWriter, results map[string]ComponentHealth, ok func(Status) bool) {
	response := HealthResponse{
		Status:     Overall(results),
		Components: results,
		Timestamp:  time.Now(),
	}

	statusCode := http.StatusOK
	if !ok(response.Status) {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// LivenessHandler answers 503 only when a liveness check is unhealthy
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, c.Live(r.Context()), func(s Status) bool {
			return s != StatusUnhealthy
		})
	}
}

// ReadinessHandler answers 200 only when every readiness check is healthy
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, c.Ready(r.Context()), func(s Status) bool {
			return s == StatusHealthy
		})
	}
}

// StateCheck reports healthy while state() is one of healthy, unhealthy
// when it is one of failed and degraded otherwise
func StateCheck(state func() string, healthy, failed []string) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		s := state()
		status := StatusDegraded
		switch {
		case slices.Contains(healthy, s):
			status = StatusHealthy
		case slices.Contains(failed, s):
			status = StatusUnhealthy
		}
		return ComponentHealth{
			Status:   status,
			Message:  s,
			Metadata: map[string]interface{}{"state": s},
		}
	}
}

// PingCheck reports unhealthy when ping fails
func PingCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}
		return ComponentHealth{
			Status:  StatusHealthy,
			Message: "reachable",
		}
	}
}
