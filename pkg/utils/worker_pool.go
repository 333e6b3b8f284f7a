package utils

import (
	"runtime"
	"sync"
)

// WorkerPool runs queued tasks on a fixed number of goroutines.
// The queue is unbounded, submitting never runs a task on the caller.
type WorkerPool struct {
	workerCount int
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []func()
	stopped     bool
	wg          sync.WaitGroup
}

func NewWorkerPool() *WorkerPool {
	return NewWorkerPoolSize(runtime.GOMAXPROCS(0))
}

// Create a worker pool with a fixed number of workers.
// Counts below one default to GOMAXPROCS.
func NewWorkerPoolSize(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	wp := &WorkerPool{
		workerCount: workerCount,
	}
	wp.cond = sync.NewCond(&wp.mu)
	return wp
}

func (wp *WorkerPool) Size() int {
	return wp.workerCount
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		go wp.work()
	}
}

// Queued tasks are still run after Stop so that Wait returns.
func (wp *WorkerPool) next() (func(), bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for len(wp.queue) == 0 && !wp.stopped {
		wp.cond.Wait()
	}
	if len(wp.queue) == 0 {
		return nil, false
	}

	task := wp.queue[0]
	wp.queue[0] = nil
	wp.queue = wp.queue[1:]
	return task, true
}

func (wp *WorkerPool) work() {
	for {
		task, ok := wp.next()
		if !ok {
			return
		}
		task()
		wp.wg.Done()
	}
}

// Queue a task for a worker.
// Returns false without queueing the task if the pool is stopped.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		return false
	}

	wp.wg.Add(1)
	wp.queue = append(wp.queue, task)
	wp.cond.Signal()
	return true
}

// Number of tasks waiting for a worker.
func (wp *WorkerPool) Queued() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.queue)
}

// Stop the workers once queued tasks have run.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.stopped = true
	wp.cond.Broadcast()
}

func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
