package gpuframe

import (
	"github.com/gogpu/gpuframe/internal/parallel"
)

// Dispatcher runs recording tasks on a fixed set of goroutines, each owning
// one Worker. Tasks of one frame run between BeginFrame and EndFrame; Run
// returns once all of them finished, so the caller can end the frame right
// after.
type Dispatcher struct {
	dev     *Device
	pool    *parallel.WorkerPool
	workers []*Worker
}

// NewDispatcher starts n recording goroutines for d. If n is 0 or negative,
// GOMAXPROCS is used. The device's thread count must cover n plus the
// goroutine driving the frame loop.
func NewDispatcher(d *Device, n int) *Dispatcher {
	pool := parallel.NewWorkerPool(n)
	p := &Dispatcher{
		dev:     d,
		pool:    pool,
		workers: make([]*Worker, pool.Workers()),
	}
	for i := range p.workers {
		p.workers[i] = d.NewWorker()
	}
	if need := pool.Workers() + 1; d.ThreadCount() < need {
		Logger().Warn("gpuframe: dispatcher exceeds device thread count, recorders will share slot 0",
			"workers", pool.Workers(), "threads", d.ThreadCount())
	}
	return p
}

// Run executes tasks concurrently and waits for all of them.
func (p *Dispatcher) Run(tasks ...func(w *Worker)) {
	wrapped := make([]parallel.Task, len(tasks))
	for i, task := range tasks {
		wrapped[i] = func(id int) { task(p.workers[id]) }
	}
	p.pool.ExecuteAll(wrapped)
}

// For calls fn for every i in [0, n) concurrently and waits for all calls.
func (p *Dispatcher) For(n int, fn func(w *Worker, i int)) {
	tasks := make([]parallel.Task, n)
	for i := range tasks {
		tasks[i] = func(id int) { fn(p.workers[id], i) }
	}
	p.pool.ExecuteAll(tasks)
}

// Concurrency returns the number of recording goroutines.
func (p *Dispatcher) Concurrency() int {
	return p.pool.Workers()
}

// Close stops the recording goroutines.
func (p *Dispatcher) Close() {
	p.pool.Close()
}
