package workers

import (
	"context"
	"sync"
)

// Workers runs a set of workers concurrently and waits for all of them.
type Workers struct {
	workers []Worker
	wg      sync.WaitGroup
}

// New aggregates workers into one runnable unit.
func New(workers ...Worker) *Workers {
	return &Workers{workers: workers}
}

// Run launches every worker in its own goroutine. It returns immediately;
// call Wait to block until all workers finished after ctx is cancelled.
func (w *Workers) Run(ctx context.Context) {
	for _, worker := range w.workers {
		w.wg.Add(1)
		go func(worker Worker) {
			defer w.wg.Done()
			worker.Run(ctx)
		}(worker)
	}
}

// Wait blocks until every launched worker returned.
func (w *Workers) Wait() {
	w.wg.Wait()
}
