// Package parallel runs recording tasks on a fixed set of goroutines.
//
// Every task receives the id of the goroutine executing it. Ids are stable
// for the lifetime of the pool and a goroutine runs one task at a time, so
// callers can keep per-goroutine state in a slice indexed by id without
// locking. Stolen tasks run with the stealer's id.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work. worker is the id of the executing goroutine, in
// [0, Workers()).
type Task func(worker int)

// WorkerPool is a pool of goroutines with per-worker queues.
//
// The pool distributes tasks across workers, each with its own queue.
// Workers steal from other queues when their own is empty, which balances
// load when some tasks are slower than others.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan Task
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
	queueSize  int
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for tasks.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan Task, workers),
		done:       make(chan struct{}),
		queueSize:  queueSize,
	}
	for i := range workers {
		p.workQueues[i] = make(chan Task, queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(id)
			return

		case task := <-myQueue:
			run(task, id)

		default:
			if stolen := p.steal(id); stolen != nil {
				run(stolen, id)
				continue
			}
			// Nothing anywhere, block on own queue.
			select {
			case <-p.done:
				p.drainQueue(id)
				return
			case task := <-myQueue:
				run(task, id)
			}
		}
	}
}

func run(task Task, id int) {
	if task != nil {
		task(id)
	}
}

// drainQueue executes every task left in the worker's own queue.
func (p *WorkerPool) drainQueue(id int) {
	for {
		select {
		case task := <-p.workQueues[id]:
			run(task, id)
		default:
			return
		}
	}
}

// steal takes a task from another worker's queue, or returns nil.
func (p *WorkerPool) steal(myID int) Task {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case task := <-p.workQueues[i]:
			return task
		default:
		}
	}
	return nil
}

// ExecuteAll distributes tasks across workers and waits for all of them.
// If the pool is closed, this is a no-op.
func (p *WorkerPool) ExecuteAll(tasks []Task) {
	if len(tasks) == 0 || !p.running.Load() {
		return
	}

	var completion sync.WaitGroup
	completion.Add(len(tasks))
	for i, task := range tasks {
		wrapped := func(id int) {
			defer completion.Done()
			run(task, id)
		}
		select {
		case p.workQueues[i%p.workers] <- wrapped:
		case <-p.done:
			completion.Done()
		}
	}
	completion.Wait()
}

// ExecuteAsync distributes tasks across workers without waiting.
// If the pool is closed, this is a no-op.
func (p *WorkerPool) ExecuteAsync(tasks []Task) {
	if len(tasks) == 0 || !p.running.Load() {
		return
	}
	for i, task := range tasks {
		select {
		case p.workQueues[i%p.workers] <- task:
		case <-p.done:
			return
		}
	}
}

// Submit sends a single task to the worker with the shortest queue.
// If the pool is closed, this is a no-op.
func (p *WorkerPool) Submit(task Task) {
	if task == nil || !p.running.Load() {
		return
	}

	minLen, minIdx := len(p.workQueues[0]), 0
	for i := 1; i < p.workers; i++ {
		if n := len(p.workQueues[i]); n < minLen {
			minLen, minIdx = n, i
		}
	}

	select {
	case p.workQueues[minIdx] <- task:
	case <-p.done:
	}
}

// Close stops accepting tasks, runs every queued task and stops the
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns the approximate number of queued tasks.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}
