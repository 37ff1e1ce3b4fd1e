package batch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/batch"
)

func TestPoolExecutesAllTasks(t *testing.T) {
	pool := batch.NewPool(zap.NewNop(), &batch.PoolConfig{Name: "test", NumWorkers: 4, QueueSize: 16})
	pool.Start()

	var counter atomic.Int64
	for i := 0; i < 20; i++ {
		err := pool.Submit(batch.TaskFunc(func(context.Context) error {
			counter.Add(1)
			return nil
		}))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	pool.Stop()

	if counter.Load() != 20 {
		t.Errorf("Expected 20 executed tasks, got %d", counter.Load())
	}
	stats := pool.Stats()
	if stats.TasksSubmitted != 20 || stats.TasksCompleted != 20 || stats.TasksFailed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	pool := batch.NewPool(zap.NewNop(), &batch.PoolConfig{Name: "test", NumWorkers: 2, QueueSize: 4})
	pool.Start()

	pool.Submit(batch.TaskFunc(func(context.Context) error { return errors.New("boom") }))
	pool.Submit(batch.TaskFunc(func(context.Context) error { return nil }))
	pool.Stop()

	stats := pool.Stats()
	if stats.TasksFailed != 1 || stats.TasksCompleted != 1 {
		t.Errorf("Expected 1 failure and 1 completion, got %+v", stats)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := batch.NewPool(zap.NewNop(), &batch.PoolConfig{Name: "test", NumWorkers: 1, QueueSize: 4})
	pool.Start()

	pool.Submit(batch.TaskFunc(func(context.Context) error { panic("kaboom") }))
	pool.Submit(batch.TaskFunc(func(context.Context) error { return nil }))
	pool.Stop()

	stats := pool.Stats()
	if stats.TasksFailed != 1 {
		t.Errorf("Expected the panicking task to count as failed, got %+v", stats)
	}
	if stats.TasksCompleted != 1 {
		t.Errorf("Expected the pool to survive the panic, got %+v", stats)
	}
}
