package mqtt5

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/panjf2000/ants/v2"
)

// workerExpiry is how long an idle worker goroutine is kept.
const workerExpiry = 60 * time.Second

// workerPool runs engine operations off the caller's goroutine.
type workerPool struct {
	pool   *ants.Pool
	logger Logger
}

func newWorkerPool(logger Logger) (*workerPool, error) {
	wp := &workerPool{logger: logger}
	pool, err := ants.NewPool(-1,
		ants.WithExpiryDuration(workerExpiry),
		ants.WithPanicHandler(wp.recovered),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	wp.pool = pool
	return wp, nil
}

func (wp *workerPool) recovered(p any) {
	wp.logger.Error("worker panic", LogFields{LogFieldError: fmt.Sprint(p), "stack": string(debug.Stack())})
}

// submit queues task. A released pool reports ErrEngineRecycled.
func (wp *workerPool) submit(task func()) error {
	err := wp.pool.Submit(task)
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrEngineRecycled
	}
	return err
}

func (wp *workerPool) running() int { return wp.pool.Running() }

// release stops the pool, waiting up to timeout for running tasks.
func (wp *workerPool) release(timeout time.Duration) error {
	return wp.pool.ReleaseTimeout(timeout)
}
