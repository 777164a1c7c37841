// Package ab implements multi-armed bandits: an ordered set of arms with pull
// and reward counters, the strategies that pick the next arm, and the record
// codec used to persist them.
//
// A Bandit is not safe for concurrent use. Callers that share one across
// goroutines must serialize access, see the experiment package.
package ab

import (
	"github.com/spaolacci/murmur3"
)

// Hash maps key into one of size buckets.
func Hash(key string, size uint64) uint64 {
	return murmur3.Sum64([]byte(key)) % size
}
