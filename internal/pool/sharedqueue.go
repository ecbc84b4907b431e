package pool

import (
	"sync"

	"go.uber.org/zap"
)

// taskQueue is a genuinely unbounded multi-producer/multi-consumer
// queue: push never blocks the caller, pop blocks until a task is
// available or the queue is closed.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Task
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, t)
	q.cond.Signal()
}

func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// SharedQueue is n workers pulling from one taskQueue. A worker that
// panics mid-task is replaced without touching the other workers or the
// queue: see sentinel below.
type SharedQueue struct {
	queue  *taskQueue
	logger *zap.Logger
}

// SharedQueueOption configures a SharedQueue at construction.
type SharedQueueOption func(*SharedQueue)

// WithLogger attaches a logger used to report panics the sentinel caught.
func WithLogger(l *zap.Logger) SharedQueueOption {
	return func(p *SharedQueue) { p.logger = l }
}

// NewSharedQueue starts n workers immediately.
func NewSharedQueue(n int, opts ...SharedQueueOption) *SharedQueue {
	p := &SharedQueue{queue: newTaskQueue(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < n; i++ {
		p.spawnWorker()
	}
	return p
}

func (p *SharedQueue) Spawn(task Task) {
	p.queue.push(task)
}

// Close stops accepting new tasks; workers drain whatever is already
// queued, then exit. It does not wait for that drain to finish.
func (p *SharedQueue) Close() {
	p.queue.close()
}

func (p *SharedQueue) spawnWorker() {
	go p.runWorker()
}

// sentinel is the stack-resident guard: it lives on runWorker's stack and
// its cleanup, run via defer when the worker's frame unwinds, decides
// whether a replacement worker is needed. The decision is never made by
// the task-running code itself — task() below has no recover() of its
// own, so a panicking task always reaches the sentinel's defer.
type sentinel struct {
	pool   *SharedQueue
	active bool
}

// onUnwind is deferred from runWorker. If the worker's frame is unwinding
// because of a panic, recover happens here — one frame above the task
// invocation — and, since the worker never reached the normal-shutdown
// assignment that clears active, a replacement worker is spawned before
// this function returns.
func (s *sentinel) onUnwind() {
	if r := recover(); r != nil {
		s.pool.logger.Warn("worker task panicked, spawning replacement", zap.Any("panic", r))
	}
	if s.active {
		s.pool.spawnWorker()
	}
}

func (p *SharedQueue) runWorker() {
	s := &sentinel{pool: p, active: true}
	defer s.onUnwind()

	for {
		task, ok := p.queue.pop()
		if !ok {
			s.active = false
			return
		}
		task()
	}
}
