// Package engine defines the capability set every storage engine variant
// exposes. Engines are cheaply cloneable so a single logical engine
// instance can be handed to many worker tasks without copying the
// underlying data.
package engine

// Engine is the contract shared by the log-structured engine and the
// bbolt-backed adapter. Every method is safe to call concurrently from
// multiple goroutines.
type Engine interface {
	// Set durably stores value under key, overwriting any prior value.
	Set(key, value string) error

	// Get returns the current value for key, or ok=false if key is
	// absent.
	Get(key string) (value string, ok bool, err error)

	// Remove deletes key. It returns kvserr.NotFound (wrapped) if key is
	// absent.
	Remove(key string) error

	// Clone returns a handle backed by the same shared state as e. Clone
	// is cheap: it never copies the index or log data.
	Clone() Engine

	// Close releases resources held by this handle's shared state (file
	// handles, background goroutines). Close should be called once per
	// logical engine, not once per clone.
	Close() error
}
