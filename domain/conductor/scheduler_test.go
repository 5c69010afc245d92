package conductor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_IsRunning(t *testing.T) {
	s := NewScheduler(slog.Default())

	if s.IsRunning() {
		t.Error("New scheduler should not be running")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestScheduler_ListTasks(t *testing.T) {
	s := NewScheduler(slog.Default())

	tasks := s.ListTasks()
	if len(tasks) != 0 {
		t.Errorf("New scheduler should have 0 tasks, got %d", len(tasks))
	}

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddIntervalTask("sync_sweep", time.Hour, noop); err != nil {
		t.Fatalf("AddIntervalTask: %v", err)
	}
	if err := s.AddCronTask("maintenance", "0 0 3 * * *", noop); err != nil {
		t.Fatalf("AddCronTask: %v", err)
	}

	tasks = s.ListTasks()
	if len(tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(tasks))
	}

	hasSweep, hasMaintenance := false, false
	for _, name := range tasks {
		if name == "sync_sweep" {
			hasSweep = true
		}
		if name == "maintenance" {
			hasMaintenance = true
		}
	}
	if !hasSweep {
		t.Error("Expected sync_sweep in list")
	}
	if !hasMaintenance {
		t.Error("Expected maintenance in list")
	}
}

func TestScheduler_AddIntervalTask_ReplacesExisting(t *testing.T) {
	s := NewScheduler(slog.Default())

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddIntervalTask("sync_sweep", time.Hour, noop); err != nil {
		t.Fatalf("AddIntervalTask: %v", err)
	}
	if err := s.AddIntervalTask("sync_sweep", 2*time.Hour, noop); err != nil {
		t.Fatalf("AddIntervalTask replace: %v", err)
	}

	if got := len(s.ListTasks()); got != 1 {
		t.Errorf("Expected 1 task after replacement, got %d", got)
	}
}

func TestScheduler_AddCronTask_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())

	err := s.AddCronTask("bad", "not a schedule", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	if got := len(s.ListTasks()); got != 0 {
		t.Errorf("Invalid task should not be registered, got %d tasks", got)
	}
}

func TestScheduler_RunsIntervalTask(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int64
	err := s.AddIntervalTask("tick", 50*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("AddIntervalTask: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("interval task never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_GetTaskInfo(t *testing.T) {
	s := NewScheduler(slog.Default())

	if err := s.AddIntervalTask("sync_sweep", time.Hour, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddIntervalTask: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	info := s.GetTaskInfo()
	if len(info) != 1 {
		t.Fatalf("Expected 1 task info entry, got %d", len(info))
	}
	if info[0].Name != "sync_sweep" {
		t.Errorf("Name = %q, want sync_sweep", info[0].Name)
	}
	if info[0].NextRun.IsZero() {
		t.Error("NextRun should be set for a started scheduler")
	}
}
