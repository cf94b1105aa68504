// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses so the worst component decides the overall one.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// probe is one dependency check. A failing probe reports onFailure, so
// optional dependencies only degrade the server.
type probe struct {
	onFailure Status
	message   string
	run       func(context.Context) error
}

// Checker performs health checks on the chat server's dependencies. A
// storage failure only degrades readiness.
type Checker struct {
	db           *sql.DB
	redis        *redis.Client
	storageCheck func(ctx context.Context) error
	version      string
	checkTimeout time.Duration
	now          func() time.Time
}

type CheckerConfig struct {
	DB           *sql.DB
	Redis        *redis.Client
	StorageCheck func(ctx context.Context) error
	Version      string
	// Timeout bounds each probe. Defaults to 5s.
	Timeout time.Duration
}

func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		db:           cfg.DB,
		redis:        cfg.Redis,
		storageCheck: cfg.StorageCheck,
		version:      cfg.Version,
		checkTimeout: timeout,
		now:          time.Now,
	}
}

func (c *Checker) runProbe(ctx context.Context, p probe) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.run(ctx)
	result := ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
	if err != nil {
		result.Status = p.onFailure
		result.Message = p.message
	}
	return result
}

// CheckDB runs SELECT 1 against the primary database.
func (c *Checker) CheckDB(ctx context.Context) ComponentHealth {
	if c.db == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "database not configured"}
	}
	return c.runProbe(ctx, probe{
		onFailure: StatusUnhealthy,
		message:   "database query failed",
		run: func(ctx context.Context) error {
			var one int
			return c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		},
	})
}

// CheckRedis pings Redis. Without Redis the server runs with a local-only
// broadcast and no sender cache, which is reported as healthy.
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	if c.redis == nil {
		return ComponentHealth{Status: StatusHealthy, Message: "redis disabled"}
	}
	return c.runProbe(ctx, probe{
		onFailure: StatusUnhealthy,
		message:   "redis ping failed",
		run:       func(ctx context.Context) error { return c.redis.Ping(ctx).Err() },
	})
}

// CheckStorage checks the profile picture bucket.
func (c *Checker) CheckStorage(ctx context.Context) ComponentHealth {
	if c.storageCheck == nil {
		return ComponentHealth{Status: StatusDegraded, Message: "storage not configured"}
	}
	return c.runProbe(ctx, probe{
		onFailure: StatusDegraded,
		message:   "storage check failed",
		run:       c.storageCheck,
	})
}

// Check is the liveness answer; it touches no dependency.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck runs every dependency check concurrently and reports the worst
// component status.
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	names := []string{"database", "redis", "storage"}
	checks := []func(context.Context) ComponentHealth{c.CheckDB, c.CheckRedis, c.CheckStorage}
	results := make([]ComponentHealth, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = check(ctx)
		}()
	}
	wg.Wait()

	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(names)),
	}
	for i, name := range names {
		response.Components[name] = results[i]
		if results[i].Status.severity() > response.Status.severity() {
			response.Status = results[i].Status
		}
	}
	return response
}

type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

func writeHealth(w http.ResponseWriter, status int, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// LivenessHandler reports that the process is up.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, h.checker.Check(r.Context()))
}

// ReadinessHandler answers 503 only when a required dependency is down.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())

	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeHealth(w, status, response)
}

// HealthHandler serves /health; ?deep=true runs the readiness checks.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}
