package workers

import (
	"context"
	"time"
)

// Task is one iteration of periodic work, lifted from a service method.
type Task func(ctx context.Context) error

// TaskWorker runs a service-provided task on a fixed interval. The sweep
// workers (monitor, settings refresh, alert windows, signal expiry) are all
// instances of this.
type TaskWorker struct {
	*BaseWorker
	task Task
}

// NewTaskWorker creates a worker around a task
func NewTaskWorker(name string, interval time.Duration, task Task) *TaskWorker {
	return &TaskWorker{
		BaseWorker: NewBaseWorker(name, interval, true),
		task:       task,
	}
}

// Run executes one iteration
func (w *TaskWorker) Run(ctx context.Context) error {
	return w.task(ctx)
}
