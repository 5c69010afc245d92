package syshealth

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
)

func newTestCollector() *Collector {
	c := NewCollector(nil, slog.Default())
	c.getCPUCores = func() int { return 4 }
	c.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 1.0}, nil
	}
	c.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 50.0, Used: 2 * 1024 * 1024 * 1024}, nil
	}
	return c
}

func TestCollect_HealthySystem(t *testing.T) {
	c := newTestCollector()

	snap := c.Collect(context.Background())

	assert.Equal(t, 100, snap.Score)
	assert.Equal(t, ZoneSafe, snap.Zone)
	assert.Equal(t, 4, snap.CPUCores)
	assert.Equal(t, 1.0, snap.CPULoadAvg)
	assert.Equal(t, 50.0, snap.MemoryPercent)
	assert.Equal(t, uint64(2048), snap.MemoryUsedMB)
	assert.Equal(t, 0.0, snap.DBPoolPercent)
	assert.Positive(t, snap.Goroutines)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_CriticalLoad(t *testing.T) {
	c := newTestCollector()
	c.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		// 20 on 4 cores is well past the 3x critical factor
		return &load.AvgStat{Load1: 20.0}, nil
	}
	c.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 97.0}, nil
	}

	snap := c.Collect(context.Background())

	assert.Equal(t, ZoneCritical, snap.Zone)
	assert.LessOrEqual(t, snap.Score, 33)
}

func TestCollect_WarningMemory(t *testing.T) {
	c := newTestCollector()
	c.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 88.0}, nil
	}

	snap := c.Collect(context.Background())

	// Half the memory weight: 100 - 15 = 85, still safe
	assert.Equal(t, 85, snap.Score)
	assert.Equal(t, ZoneSafe, snap.Zone)
}

func TestCollect_DegradesOnMetricFailure(t *testing.T) {
	c := newTestCollector()
	c.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return nil, errors.New("proc unavailable")
	}
	c.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("proc unavailable")
	}

	snap := c.Collect(context.Background())

	assert.Equal(t, 0.0, snap.CPULoadAvg)
	assert.Equal(t, 0.0, snap.MemoryPercent)
	assert.Equal(t, 100, snap.Score)
	assert.Equal(t, ZoneSafe, snap.Zone)
}

func TestComponentPenalty(t *testing.T) {
	assert.Equal(t, 0.0, componentPenalty(10, 75, 90))
	assert.Equal(t, 50.0, componentPenalty(80, 75, 90))
	assert.Equal(t, 100.0, componentPenalty(95, 75, 90))
	assert.Equal(t, 100.0, componentPenalty(90, 75, 90))
	assert.Equal(t, 50.0, componentPenalty(75, 75, 90))
}

func TestScore_ZeroCores(t *testing.T) {
	snap := &Snapshot{CPUCores: 0, CPULoadAvg: 0.5}
	s, zone := score(snap)
	assert.Equal(t, 100, s)
	assert.Equal(t, ZoneSafe, zone)
}
