package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_Create(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 4, 4},
		{"zero uses GOMAXPROCS", 0, runtime.GOMAXPROCS(0)},
		{"negative uses GOMAXPROCS", -5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()
			if pool.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", pool.Workers(), tt.want)
			}
			if !pool.IsRunning() {
				t.Error("pool should be running after creation")
			}
		})
	}
}

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_ExecuteAllAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}

	var counter atomic.Int64
	work := make([]func(), 10)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)
	if counter.Load() != 10 {
		t.Errorf("counter = %d, want 10 after Close", counter.Load())
	}
}

func TestWorkerPool_ClosedPoolHelpers(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	hits := make([]int, 50)
	pool.For(len(hits), 7, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			hits[i]++
		}
	})
	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, h)
		}
	}

	pix := pool.RenderRGBA(3, 2, func(x, y int) [4]byte { return [4]byte{byte(x), byte(y), 0, 255} })
	if got := [4]byte(pix[(1*3+2)*4:]); got != [4]byte{2, 1, 0, 255} {
		t.Errorf("pixel (2,1) = %v", got)
	}

	got := []uint32{1, 2, 3, 9}
	want := []uint32{1, 2, 3, 4}
	if m := Compare(pool, got, want); m == nil || m.Index != 3 {
		t.Errorf("Compare on a closed pool = %+v, want a mismatch at 3", m)
	}
}

func TestWorkerPool_CloseDuringExecute(t *testing.T) {
	pool := NewWorkerPool(2)

	var counter atomic.Int64
	work := make([]func(), 200)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	finished := make(chan struct{})
	go func() {
		pool.ExecuteAll(work)
		close(finished)
	}()
	pool.Close()
	<-finished

	if counter.Load() != int64(len(work)) {
		t.Errorf("counter = %d, want %d", counter.Load(), len(work))
	}
}

func TestWorkerPool_For(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	tests := []struct {
		name     string
		n, chunk int
	}{
		{"even", 100, 10},
		{"ragged", 101, 10},
		{"default chunk", 1000, 0},
		{"single", 1, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]atomic.Int32, tt.n)
			pool.For(tt.n, tt.chunk, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					hits[i].Add(1)
				}
			})
			for i := range hits {
				if got := hits[i].Load(); got != 1 {
					t.Fatalf("index %d visited %d times", i, got)
				}
			}
		})
	}
}

func TestWorkerPool_ForEmpty(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	pool.For(0, 16, func(_, _ int) { t.Error("fn called for empty range") })
}
