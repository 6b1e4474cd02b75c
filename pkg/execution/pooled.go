package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/concurrency"
	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Config controls the pooled service's size.
type Config struct {
	// Workers is the number of pool workers.
	Workers int

	// QueueSize is the job queue capacity. Submit blocks when full.
	QueueSize int
}

// DefaultConfig derives pool sizing from the environment's concurrency
// settings.
func DefaultConfig() Config {
	cc := concurrency.LoadConfig()
	return Config{
		Workers:   cc.ExecutorCount,
		QueueSize: cc.ExecutorCount * 8,
	}
}

// Metrics is a snapshot of the service's counters.
type Metrics struct {
	Submitted  int64
	Processed  int64
	Failed     int64
	Abandoned  int64
	QueueDepth int
}

const (
	stateIdle int32 = iota
	stateActive
	stateDraining
	stateStopped
)

type job struct {
	task   Task
	handle *TaskHandle
}

// Pooled is the worker pool implementation of Service.
type Pooled struct {
	config Config
	logger *zap.Logger
	cron   *cron.Cron

	jobs       chan *job
	quit       chan struct{}
	hardCtx    context.Context
	hardCancel context.CancelFunc
	wg         sync.WaitGroup

	state    atomic.Int32
	quitOnce sync.Once
	hardOnce sync.Once

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
}

// NewPooled creates a pooled execution service. Non-positive sizes fall
// back to defaults.
func NewPooled(config Config, logger *zap.Logger) (*Pooled, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pooled{
		config:     config,
		logger:     logger,
		cron:       cron.New(),
		jobs:       make(chan *job, config.QueueSize),
		quit:       make(chan struct{}),
		hardCtx:    ctx,
		hardCancel: cancel,
	}, nil
}

// Activate starts the workers and the cron scheduler. Activating an
// already active service is a no-op; a shut down service cannot be
// reactivated.
func (p *Pooled) Activate() error {
	if p.state.CompareAndSwap(stateIdle, stateActive) {
		for i := 0; i < p.config.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.cron.Start()
		p.logger.Info("Execution service activated",
			zap.Int("workers", p.config.Workers),
			zap.Int("queue_size", p.config.QueueSize))
		return nil
	}
	if p.state.Load() == stateActive {
		return nil
	}
	return errors.NewIllegalState("execution service has been shut down")
}

// Submit enqueues a task, blocking while the queue is full. ctx bounds the
// wait.
func (p *Pooled) Submit(ctx context.Context, task Task) (*TaskHandle, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	if p.state.Load() != stateActive {
		return nil, errors.NewIllegalState("execution service is not active")
	}

	handle := &TaskHandle{ID: uuid.NewString(), done: make(chan struct{})}
	select {
	case p.jobs <- &job{task: task, handle: handle}:
		p.submitted.Add(1)
		return handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.hardCtx.Done():
		return nil, errors.NewIllegalState("execution service is shutting down")
	}
}

// Schedule registers a recurring task under a cron spec. Each firing is
// submitted to the pool like any other task.
func (p *Pooled) Schedule(spec string, task Task) (cron.EntryID, error) {
	if p.state.Load() != stateActive {
		return 0, errors.NewIllegalState("execution service is not active")
	}
	return p.cron.AddFunc(spec, func() {
		if _, err := p.Submit(p.hardCtx, task); err != nil {
			p.logger.Warn("Scheduled task submission failed", zap.Error(err))
		}
	})
}

// Unschedule removes a recurring task.
func (p *Pooled) Unschedule(id cron.EntryID) {
	p.cron.Remove(id)
}

// Shutdown stops the service immediately. Queued tasks are abandoned and
// their handles complete with a cancellation error. Shutdown does not wait
// for in-flight tasks and is therefore safe to call from a task or a
// unit's processing goroutine.
func (p *Pooled) Shutdown() {
	prev := p.state.Swap(stateStopped)
	if prev == stateStopped {
		return
	}
	p.hardOnce.Do(func() {
		p.cron.Stop()
		p.hardCancel()
	})
	// sweep anything a racing Submit slipped past the workers' exit
	for {
		select {
		case j := <-p.jobs:
			p.abandon(j)
		default:
			if prev != stateIdle {
				p.logger.Info("Execution service shut down", zap.Int64("abandoned", p.abandoned.Load()))
			}
			return
		}
	}
}

// ShutdownAwait stops accepting work, drains the queue, and waits up to
// timeout for in-flight tasks. On timeout the service hard-stops and a
// timeout error is returned.
func (p *Pooled) ShutdownAwait(timeout time.Duration) error {
	if p.state.CompareAndSwap(stateIdle, stateStopped) {
		return nil
	}
	if !p.state.CompareAndSwap(stateActive, stateDraining) {
		// already draining or stopped
		return nil
	}
	p.cron.Stop()
	p.quitOnce.Do(func() { close(p.quit) })

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.state.Store(stateStopped)
		p.hardOnce.Do(p.hardCancel)
		p.logger.Info("Execution service drained",
			zap.Int64("processed", p.processed.Load()),
			zap.Int64("failed", p.failed.Load()))
		return nil
	case <-time.After(timeout):
		p.state.Store(stateStopped)
		p.hardOnce.Do(p.hardCancel)
		return fmt.Errorf("drain timed out after %s: %w", timeout, errors.ErrTimeout)
	}
}

// GetMetrics returns a snapshot of the counters.
func (p *Pooled) GetMetrics() Metrics {
	return Metrics{
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Abandoned:  p.abandoned.Load(),
		QueueDepth: len(p.jobs),
	}
}

func (p *Pooled) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.quit:
			// finish whatever is queued, then exit
			for {
				select {
				case j := <-p.jobs:
					p.run(j)
				default:
					return
				}
			}
		case <-p.hardCtx.Done():
			// abandon the queue
			for {
				select {
				case j := <-p.jobs:
					p.abandon(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pooled) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			j.handle.err = fmt.Errorf("task panic: %v", r)
			close(j.handle.done)
			p.logger.Error("Task panicked",
				zap.String("task_id", j.handle.ID),
				zap.Any("panic", r))
		}
	}()

	err := j.task(p.hardCtx)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Task failed",
			zap.String("task_id", j.handle.ID),
			zap.Error(err))
	} else {
		p.processed.Add(1)
	}
	j.handle.err = err
	close(j.handle.done)
}

func (p *Pooled) abandon(j *job) {
	p.abandoned.Add(1)
	j.handle.err = fmt.Errorf("task abandoned: %w", context.Canceled)
	close(j.handle.done)
}
