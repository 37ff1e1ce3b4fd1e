package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of work for the pool.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool runs independent backtest tasks across worker goroutines. Each task
// owns its own engine and result table, so run-level parallelism is safe;
// concurrency inside one run is never introduced here.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	tasksSubmitted atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name       string // Pool name for logging
	NumWorkers int    // Number of worker goroutines
	QueueSize  int    // Size of the task queue
}

// DefaultPoolConfig returns sensible defaults: one worker per CPU, since
// backtest folds are CPU bound.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:       name,
		NumWorkers: runtime.NumCPU(),
		QueueSize:  256,
	}
}

// PoolStats contains pool counters.
type PoolStats struct {
	TasksSubmitted int64 `json:"tasksSubmitted"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
}

// NewPool creates a worker pool.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return // Already running
	}

	p.logger.Info("Starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// Submit queues a task. It blocks when the queue is full and returns the
// pool context error if the pool is stopped.
func (p *Pool) Submit(task Task) error {
	select {
	case p.taskQueue <- task:
		p.tasksSubmitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stop drains queued tasks and waits for the workers to finish.
func (p *Pool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
	p.cancel()
}

// Stats returns current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: p.tasksSubmitted.Load(),
		TasksCompleted: p.tasksCompleted.Load(),
		TasksFailed:    p.tasksFailed.Load(),
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("workerId", id))

	for task := range p.taskQueue {
		if err := p.executeTask(task); err != nil {
			p.tasksFailed.Add(1)
			logger.Warn("Task failed", zap.Error(err))
		} else {
			p.tasksCompleted.Add(1)
		}
	}
}

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}

func (p *Pool) executeTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker recovered from panic", zap.Any("panic", r))
			err = &PanicError{Recovered: r}
		}
	}()
	return task.Execute(p.ctx)
}
