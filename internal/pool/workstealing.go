package pool

import (
	"github.com/panjf2000/ants/v2"
)

// WorkStealing wraps a third-party work-stealing goroutine pool
// (github.com/panjf2000/ants/v2) behind the same Pool contract as Naive
// and SharedQueue.
type WorkStealing struct {
	p *ants.Pool
}

// NewWorkStealing starts a pool of n goroutines. Submit blocks the
// caller when the pool is already at capacity (ants.WithNonblocking is
// left at its default false), so a Spawn under saturation waits for a
// worker to free up rather than silently dropping the task.
func NewWorkStealing(n int) (*WorkStealing, error) {
	p, err := ants.NewPool(n, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &WorkStealing{p: p}, nil
}

func (w *WorkStealing) Spawn(task Task) {
	_ = w.p.Submit(task)
}

func (w *WorkStealing) Close() {
	w.p.Release()
}
