package eviction

// Victim represents a cached photo selected for eviction.
type Victim struct {
	Key  string
	Size int64
}

// Strategy defines the interface for eviction strategies.
//
// A Strategy only tracks ordering and sizes; the owner of the bytes decides
// when to evict and removes the victim itself. Implementations must be safe
// for concurrent use.
type Strategy interface {
	// OnAdd is called when an entry is inserted. It returns the change in
	// total size managed by the strategy (size for a new key, the difference
	// for a replaced one).
	OnAdd(key string, size int64) int64

	// OnAccess is called when an entry is read.
	OnAccess(key string)

	// Victim returns the next entry to evict without removing it.
	// ok is false when the strategy tracks nothing.
	Victim() (v Victim, ok bool)

	// Remove removes a key from the strategy.
	Remove(key string)

	// Keys returns the tracked keys, the ones least eligible for eviction first.
	Keys() []string

	// Len returns the number of tracked keys.
	Len() int
}
