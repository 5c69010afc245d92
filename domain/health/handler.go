// Package health exposes the ops surface: liveness, readiness with
// dependency checks, the stats snapshot and Prometheus metrics.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/engagic/engagic/domain/conductor"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/jobs"
	"github.com/engagic/engagic/internal/version"
	"github.com/engagic/engagic/pkg/syshealth"
)

const checkTimeout = 5 * time.Second

// dbPinger is the slice of the pgx pool the handler needs.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// queueStatser is the slice of the queue repository the handler needs.
type queueStatser interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Handler handles health check and stats requests
type Handler struct {
	pool      dbPinger
	queue     queueStatser
	pools     *conductor.Pools
	scheduler *conductor.Scheduler
	collector *syshealth.Collector
	cfg       *config.Config
	startAt   time.Time
}

// NewHandler creates a new health handler
func NewHandler(pool *pgxpool.Pool, q *queue.Repository, pools *conductor.Pools, scheduler *conductor.Scheduler, collector *syshealth.Collector, cfg *config.Config) *Handler {
	return &Handler{
		pool:      pool,
		queue:     q,
		pools:     pools,
		scheduler: scheduler,
		collector: collector,
		cfg:       cfg,
		startAt:   time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health returns the overall service health: database connectivity and
// queue reachability.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	checks := map[string]Check{
		"database": {Status: "healthy"},
		"queue":    {Status: "healthy"},
	}

	if err := h.pool.Ping(ctx); err != nil {
		checks["database"] = Check{Status: "unhealthy", Message: err.Error()}
	}
	if _, err := h.queue.Stats(ctx); err != nil {
		checks["queue"] = Check{Status: "unhealthy", Message: err.Error()}
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if check.Status != "healthy" {
			overallStatus = "unhealthy"
			break
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, response)
}

// Healthz returns a simple health check (for liveness probes)
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// StatsResponse aggregates everything an operator wants in one request.
type StatsResponse struct {
	Status    string                        `json:"status"`
	Timestamp string                        `json:"timestamp"`
	Uptime    string                        `json:"uptime"`
	Version   version.VersionInfo           `json:"version"`
	Queue     *queue.Stats                  `json:"queue"`
	Workers   map[string]jobs.WorkerMetrics `json:"workers"`
	Tasks     []conductor.TaskInfo          `json:"tasks"`
	System    *syshealth.Snapshot           `json:"system"`
}

// Stats returns queue depth, worker metrics, scheduled task info and a
// system snapshot.
func (h *Handler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	queueStats, err := h.queue.Stats(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, StatsResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Info(),
		Queue:     queueStats,
		Workers:   h.pools.Metrics(),
		Tasks:     h.scheduler.GetTaskInfo(),
		System:    h.collector.Collect(ctx),
	})
}
