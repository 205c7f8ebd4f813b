package legibility

import (
	"runtime"
	"sync"
)

// WorkerPool runs pixel stripes of concurrent readability checks on a
// fixed set of goroutines.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	once     sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

// Workers returns the number of goroutines serving the pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		job()
	}
}

// Run submits every job and blocks until all of them have finished.
// Jobs of concurrent callers interleave; each call waits only for its own.
// After Close the jobs run on the caller's goroutine.
func (wp *WorkerPool) Run(jobs ...func()) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		for _, job := range jobs {
			job()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, job := range jobs {
		job := job
		wp.jobQueue <- func() {
			defer wg.Done()
			job()
		}
	}
	wg.Wait()
}

// Close shuts down the worker pool once in-flight Run calls have returned
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.jobQueue)
}
