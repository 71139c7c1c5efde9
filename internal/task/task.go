// Package task runs periodic background jobs that stop on request.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func is one run of a periodic job.
type Func func(ctx context.Context) error

// Task runs a Func on a fixed interval until stopped.
type Task struct {
	name string
	fn   Func

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Every starts running fn every interval. The first run happens after one
// interval. Errors are logged and do not stop the task.
func Every(name string, interval time.Duration, fn Func) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		name:   name,
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop(ctx, interval)
	return t
}

func (t *Task) loop(ctx context.Context, interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := t.fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Task failed", "task", t.name, "error", err, "duration", time.Since(start))
				continue
			}
			slog.Debug("Task finished", "task", t.name, "duration", time.Since(start))
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels a running pass and waits for the task to exit. It is safe to
// call more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(t.cancel)
	<-t.done
}
