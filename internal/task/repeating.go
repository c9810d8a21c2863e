package task

import (
	"context"
	"sync"
	"time"
)

// RepeatingTask runs a function at a fixed interval until it is stopped or
// its context ends. The context handed to the function is cancelled on stop,
// so a run in flight is abandoned rather than finished.
type RepeatingTask struct {
	task     func(context.Context)
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRepeating creates a repeating task. It does nothing until Start.
func NewRepeating(task func(context.Context), interval time.Duration) *RepeatingTask {
	return &RepeatingTask{task: task, interval: interval}
}

// Every creates and starts a repeating task in one call.
func Every(ctx context.Context, interval time.Duration, task func(context.Context)) *RepeatingTask {
	t := NewRepeating(task, interval)
	t.Start(ctx)
	return t
}

// Start starts the task. Starting a running task is a no-op.
func (t *RepeatingTask) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.running = true

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// a tick and a stop can be ready together
				if ctx.Err() != nil {
					return
				}
				t.task(ctx)
			}
		}
	}(t.done)
}

// Stop cancels the task and waits for its goroutine to exit. No run starts
// after Stop returns. Stopping a stopped task is a no-op.
func (t *RepeatingTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()
	<-done
}

// Running reports whether the task has been started and not stopped.
func (t *RepeatingTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
