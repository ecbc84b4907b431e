// Package pool provides three interchangeable worker-pool
// implementations, all satisfying the same minimal contract: Spawn
// enqueues a task without blocking on it, and tasks run on goroutines
// other than the caller's.
package pool

// Task is a one-shot unit of work with no result.
type Task func()

// Pool is the contract shared by Naive, SharedQueue, and WorkStealing.
type Pool interface {
	// Spawn submits task for execution. It does not block on the task
	// running or completing.
	Spawn(task Task)

	// Close stops accepting new tasks and releases pool resources.
	// Implementations differ on whether in-flight tasks are awaited;
	// see each variant's doc comment.
	Close()
}
