// Package dispatch runs fire-and-forget side effects on a bounded worker pool.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-house/utils"

	"code.cloudfoundry.org/workpool"
)

const (
	DefaultWorkers = 8
	DefaultTimeout = 30 * time.Second
)

// Task is a unit of side-effect work. Its context expires after the dispatcher's timeout.
type Task func(ctx context.Context) error

// Dispatcher wraps a workpool. Task failures and panics are logged and never
// reach the operation that submitted the task.
type Dispatcher struct {
	pool    *workpool.WorkPool
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a dispatcher with the given number of workers and per-task timeout
func New(workers int, timeout time.Duration) (*Dispatcher, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pool, err := workpool.NewWorkPool(workers)
	if err != nil {
		return nil, fmt.Errorf("dispatch: create work pool: %w", err)
	}
	return &Dispatcher{pool: pool, timeout: timeout}, nil
}

// Submit schedules task. name and fields identify it in logs.
func (d *Dispatcher) Submit(name string, fields map[string]any, task Task) {
	d.wg.Add(1)
	d.pool.Submit(func() {
		defer d.wg.Done()
		d.run(name, fields, task)
	})
}

func (d *Dispatcher) run(name string, fields map[string]any, task Task) {
	logFields := map[string]any{"task": name}
	for k, v := range fields {
		logFields[k] = v
	}

	defer func() {
		if r := recover(); r != nil {
			logFields["panic"] = fmt.Sprint(r)
			utils.Error("Background task panicked", logFields)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := task(ctx)
	logFields["duration"] = time.Since(start).String()
	if err != nil {
		logFields["error"] = err.Error()
		utils.Error("Background task failed", logFields)
		return
	}
	utils.Debug("Background task completed", logFields)
}

// Wait blocks until every submitted task has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop drains outstanding tasks and releases the workers
func (d *Dispatcher) Stop() {
	d.wg.Wait()
	d.pool.Stop()
}
