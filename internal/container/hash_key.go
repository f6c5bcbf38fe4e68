package container

import "fmt"

// keyBytes renders any comparable key to bytes for hashing. Typed
// callers with a hot key type (e.g. identity.ID) should prefer a
// dedicated hash function; this generic fallback trades some
// throughput for working uniformly across key types.
func keyBytes[K comparable](key K) string {
	return fmt.Sprintf("%v", key)
}
