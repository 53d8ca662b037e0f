package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs batches of independent work items on a fixed set of
// goroutines. Each worker owns a queue and steals from the others when its
// own queue runs dry, so uneven items (a fractal tile that diverges late
// next to one that escapes at once) still keep every worker busy.
//
// WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// mu is held for reading while ExecuteAll queues items and for
	// writing while Close stops accepting them.
	mu sync.RWMutex
}

// NewWorkerPool starts a pool of workers goroutines. Zero or a negative
// count means GOMAXPROCS.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// ExecuteAll runs every item and returns when all of them have finished.
// Once the pool is closed the items run on the caller's goroutine.
// Items must not call back into the same pool.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	p.mu.RLock()
	if !p.running.Load() {
		p.mu.RUnlock()
		for _, fn := range work {
			fn()
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		p.queues[i%p.workers] <- func() {
			defer wg.Done()
			fn()
		}
	}
	p.mu.RUnlock()
	wg.Wait()
}

// For calls fn over [0, n) split into ranges of at most chunk indices and
// waits for all of them.
func (p *WorkerPool) For(n, chunk int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if chunk <= 0 {
		chunk = (n + p.workers - 1) / p.workers
	}
	work := make([]func(), 0, (n+chunk-1)/chunk)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close finishes queued work and stops the workers. It is safe to call
// more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether work still runs on the pool's workers.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }
