// Package execution provides the scheduling capability injected into
// hosted units: a bounded worker pool for one-off tasks plus cron-style
// recurring scheduling. Units never create goroutines themselves; they
// submit work here.
package execution

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a unit of work. It receives the service's lifetime context and
// should return promptly once that context is done.
type Task func(ctx context.Context) error

// TaskHandle tracks a submitted task.
type TaskHandle struct {
	// ID uniquely identifies the task in logs.
	ID string

	done chan struct{}
	err  error
}

// Done is closed when the task has finished, failed, or been abandoned.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's outcome. Only valid after Done is closed.
func (h *TaskHandle) Err() error {
	return h.err
}

// Wait blocks until the task finishes or ctx is done, returning the task's
// error or the context's.
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service schedules work on behalf of hosted units. Submit blocks while
// the queue is full, which is the backpressure a caller opts into by
// submitting; the ctx argument bounds that wait. Shutdown stops promptly,
// abandoning queued tasks; ShutdownAwait drains the queue first, up to the
// timeout.
type Service interface {
	Activate() error
	Shutdown()
	ShutdownAwait(timeout time.Duration) error
	Submit(ctx context.Context, task Task) (*TaskHandle, error)
	Schedule(spec string, task Task) (cron.EntryID, error)
	Unschedule(id cron.EntryID)
}
