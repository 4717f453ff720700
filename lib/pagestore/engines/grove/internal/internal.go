package internal

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Version Type (one committed state of a key)
// --------------------------------------------------------------------------

// Version is one committed state of a key. A key's history is the ordered
// list of its versions; Deleted marks a tombstone.
type Version struct {
	Seq     uint64 // Commit sequence number that produced this version
	Value   []byte // Encoded object value (nil for tombstones)
	Meta    []byte // Encoded metadata (nil for tombstones)
	Deleted bool   // Whether this version is a tombstone
}

// --------------------------------------------------------------------------
// Chain Type (version history of a key)
// --------------------------------------------------------------------------

// Chain holds the retained versions of one key, ascending by Seq.
// A Chain value is immutable once stored in a shard map; updates replace
// the whole value via Compute so readers always see a consistent history.
type Chain struct {
	Versions []Version
}

// At returns the newest version with Seq <= at.
// The boolean return value indicates whether such a version exists
// (tombstones are returned with found=true; callers check Deleted).
func (c Chain) At(at uint64) (Version, bool) {
	for i := len(c.Versions) - 1; i >= 0; i-- {
		if c.Versions[i].Seq <= at {
			return c.Versions[i], true
		}
	}
	return Version{}, false
}

// Append returns a copy of the chain with v appended and stale versions
// below the horizon pruned. The newest version at or below the horizon is
// always retained since a reader at the horizon still needs it.
func (c Chain) Append(v Version, horizon uint64) Chain {
	kept := c.pruneIndex(horizon)

	versions := make([]Version, 0, len(c.Versions)-kept+1)
	versions = append(versions, c.Versions[kept:]...)
	versions = append(versions, v)
	return Chain{Versions: versions}
}

// Prune returns the chain with versions below the horizon dropped and
// whether anything was removed. A chain whose only remaining version is a
// tombstone at or below the horizon prunes to empty: no retained reader can
// see the key anymore.
func (c Chain) Prune(horizon uint64) (Chain, bool) {
	kept := c.pruneIndex(horizon)

	if kept == len(c.Versions)-1 && c.Versions[kept].Deleted && c.Versions[kept].Seq <= horizon {
		return Chain{}, true
	}
	if kept == 0 {
		return c, false
	}
	return Chain{Versions: append([]Version(nil), c.Versions[kept:]...)}, true
}

// Empty reports whether the chain retains no versions.
func (c Chain) Empty() bool {
	return len(c.Versions) == 0
}

// pruneIndex returns the index of the first version to retain: everything
// before the newest version with Seq <= horizon is stale.
func (c Chain) pruneIndex(horizon uint64) int {
	kept := 0
	for i, v := range c.Versions {
		if v.Seq <= horizon {
			kept = i
		}
	}
	return kept
}

// --------------------------------------------------------------------------
// Shard Type (partition of the store)
// --------------------------------------------------------------------------

// Shard represents a partition of the store.
// Each shard owns an independent concurrent map of key histories.
type Shard struct {
	Data *xsync.MapOf[string, Chain]
}

// NewShard creates an empty shard.
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Chain](),
	}
}

// GetShard returns the shard responsible for a given key.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func GetShard(key string, seed uint64, shards []*Shard) *Shard {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shifted := HashString(key, seed) >> 7
	return shards[shifted%uint64(len(shards))]
}

// --------------------------------------------------------------------------
// Hash Helper Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for shard distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// last-resort fallback
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// HashString generates a hash value for a string with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution.
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}
