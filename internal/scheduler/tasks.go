package scheduler

import (
	"context"
	"sort"
	"sync"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskRegistry holds uniquely named long-running tasks. Launching a
// name that is already running cancels the previous holder first, so
// work like "calculate simulation" or "download history" always has at
// most one live instance.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*task)}
}

// Launch starts fn under the given name, cancelling any predecessor.
// fn must honor its context; the registry does not wait for the
// predecessor to unwind before starting the successor.
func (r *TaskRegistry) Launch(parent context.Context, name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	next := &task{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if prev, ok := r.tasks[name]; ok {
		prev.cancel()
	}
	r.tasks[name] = next
	r.mu.Unlock()

	go func() {
		defer func() {
			close(next.done)
			cancel()
			r.mu.Lock()
			if r.tasks[name] == next {
				delete(r.tasks, name)
			}
			r.mu.Unlock()
		}()
		fn(ctx)
	}()
}

// Cancel stops the named task if it is running.
func (r *TaskRegistry) Cancel(name string) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Wait blocks until the named task finishes; a no-op when nothing runs
// under that name.
func (r *TaskRegistry) Wait(name string) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if ok {
		<-t.done
	}
}

// Running lists the live task names, sorted.
func (r *TaskRegistry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
