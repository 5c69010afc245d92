// Package syshealth takes point-in-time system resource snapshots for the
// stats endpoint: CPU load, memory pressure, database pool utilisation and a
// combined health score.
package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/logger"
)

// Zone buckets the health score for operators scanning /stats.
type Zone string

const (
	// ZoneCritical indicates severe resource pressure (score 0-33).
	ZoneCritical Zone = "critical"
	// ZoneWarning indicates moderate resource pressure (score 34-66).
	ZoneWarning Zone = "warning"
	// ZoneSafe indicates healthy resource utilization (score 67-100).
	ZoneSafe Zone = "safe"
)

// Component thresholds: below warning costs nothing, between warning and
// critical costs half the component's weight, at or above critical costs all
// of it.
const (
	cpuLoadWarningFactor  = 2.0
	cpuLoadCriticalFactor = 3.0
	memoryWarningPercent  = 85.0
	memoryCriticalPercent = 95.0
	dbPoolWarningPercent  = 75.0
	dbPoolCriticalPercent = 90.0
)

// Snapshot holds one collection's metrics and the derived score.
type Snapshot struct {
	Score int  `json:"score"`
	Zone  Zone `json:"zone"`

	CPUCores      int     `json:"cpu_cores"`
	CPULoadAvg    float64 `json:"cpu_load_avg"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	DBPoolPercent float64 `json:"db_pool_percent"`
	Goroutines    int     `json:"goroutines"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers snapshots on demand. The db handle is optional; without
// it pool utilisation reads as zero.
type Collector struct {
	db  *bun.DB
	log *slog.Logger

	// Collection functions for mocking
	getLoadAvg  func(context.Context) (*load.AvgStat, error)
	getMemStats func(context.Context) (*mem.VirtualMemoryStat, error)
	getCPUCores func() int
}

// NewCollector creates a new snapshot collector
func NewCollector(db *bun.DB, log *slog.Logger) *Collector {
	return &Collector{
		db:          db,
		log:         log.With(logger.Scope("syshealth")),
		getLoadAvg:  load.AvgWithContext,
		getMemStats: mem.VirtualMemoryWithContext,
		getCPUCores: runtime.NumCPU,
	}
}

// Collect gathers a snapshot. Individual metric failures degrade to zero
// values rather than failing the whole stats request.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		CPUCores:    c.getCPUCores(),
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
	}

	if l, err := c.getLoadAvg(ctx); err == nil {
		snap.CPULoadAvg = l.Load1
	} else {
		c.log.Warn("failed to collect load average", logger.Error(err))
	}

	if v, err := c.getMemStats(ctx); err == nil {
		snap.MemoryPercent = v.UsedPercent
		snap.MemoryUsedMB = v.Used / 1024 / 1024
	} else {
		c.log.Warn("failed to collect memory stats", logger.Error(err))
	}

	if c.db != nil {
		stats := c.db.DB.Stats()
		if stats.MaxOpenConnections > 0 {
			snap.DBPoolPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100.0
		}
	}

	snap.Score, snap.Zone = score(snap)
	return snap
}

// score weights CPU pressure heaviest: a loaded box slows every worker,
// while a warm DB pool is often just a busy queue.
func score(s *Snapshot) (int, Zone) {
	cores := float64(s.CPUCores)
	if cores == 0 {
		cores = 1
	}

	cpuPenalty := componentPenalty(s.CPULoadAvg/cores*100.0,
		cpuLoadWarningFactor*100.0, cpuLoadCriticalFactor*100.0)
	memPenalty := componentPenalty(s.MemoryPercent,
		memoryWarningPercent, memoryCriticalPercent)
	dbPenalty := componentPenalty(s.DBPoolPercent,
		dbPoolWarningPercent, dbPoolCriticalPercent)

	penalty := (cpuPenalty * 0.45) + (memPenalty * 0.30) + (dbPenalty * 0.25)
	final := 100 - int(penalty)
	if final < 0 {
		final = 0
	}

	switch {
	case final <= 33:
		return final, ZoneCritical
	case final <= 66:
		return final, ZoneWarning
	default:
		return final, ZoneSafe
	}
}

// componentPenalty maps a metric to a 0-100 penalty
func componentPenalty(value, warning, critical float64) float64 {
	if value >= critical {
		return 100.0
	}
	if value >= warning {
		return 50.0
	}
	return 0.0
}
