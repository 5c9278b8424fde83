package policy

// Policy decides whether the cache holds more bytes than it may.
type Policy interface {
	// BytesToFree returns the number of bytes that should be evicted.
	// Returns 0 if no eviction is needed.
	BytesToFree(currentSize int64) (int64, error)

	// Admits reports whether a single entry of the given size can ever be
	// held under this policy.
	Admits(size int64) bool
}
