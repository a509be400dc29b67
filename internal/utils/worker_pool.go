package utils

import (
	"sync"
)

// WorkerPool runs submitted tasks on a fixed set of workers. It is
// used to fan out independent sink writes at report time so a slow or
// failing destination does not delay the others.
type WorkerPool struct {
	jobQueue  chan func()
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	pool := &WorkerPool{
		jobQueue: make(chan func(), workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.jobQueue {
		task()
	}
}

// Submit enqueues a task. Blocks when the queue is full.
func (wp *WorkerPool) Submit(task func()) {
	wp.jobQueue <- task
}

// Shutdown stops accepting tasks and waits for in-flight ones.
func (wp *WorkerPool) Shutdown() {
	close(wp.jobQueue)
	wp.waitGroup.Wait()
}
