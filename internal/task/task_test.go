package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery_RunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	task := Every("count", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	task.Stop()
	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs.Load())
	}

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Errorf("task ran after Stop: %d -> %d", after, got)
	}

	// Stop is idempotent.
	task.Stop()
}

func TestEvery_ErrorsDoNotStopTask(t *testing.T) {
	var runs atomic.Int32
	task := Every("failing", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	defer task.Stop()

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected task to keep running after an error, got %d runs", runs.Load())
	}
}

func TestStop_CancelsRunningPass(t *testing.T) {
	started := make(chan struct{}, 1)
	task := Every("slow", time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	stopped := make(chan struct{})
	go func() {
		task.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running pass")
	}
}
