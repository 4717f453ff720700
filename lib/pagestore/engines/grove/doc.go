// Package grove implements an in-memory multi-version page store with
// checkpoint persistence. It provides a complete implementation of the
// pagestore.IStore interface with a focus on lock-free concurrent reads
// under a single writer.
//
// The package focuses on:
//   - Optimized concurrent access through sharding and lock-free data structures
//   - True point-in-time reads: every key keeps a short version history so a
//     reader can ask for the state as of any retained commit sequence number
//   - Inline and background pruning of versions no reader can see anymore
//   - Checkpoint persistence with efficient binary encoding
//
// Key Components:
//
//   - groveImpl: The central store structure implementing pagestore.IStore.
//     It manages shards, the commit sequence bookkeeping and the background
//     version sweep. The store does not assign commit sequence numbers
//     itself; the caller passes the next sequence to Apply, which lets the
//     object layer above keep its snapshot counter and the store in lock-step.
//
//   - Shard: A partition of the store managing a subset of the key space.
//     Each shard owns an independent concurrent map from key to version
//     chain. Keys are distributed across shards with a seeded FNV-1a hash.
//
//   - Chain / Version: The version history of one key. Chains are immutable
//     values replaced wholesale on write, so a concurrent reader always sees
//     a consistent history. Tombstone versions record removals without
//     disturbing readers at older sequence numbers.
//
// Version Retention:
//
//	The object layer advances the retain horizon to the oldest snapshot any
//	live connection still observes. Writes prune stale versions inline while
//	appending; a background sweep reclaims chains of keys that are no longer
//	written to, including fully tombstoned ones.
//
// Durability Model:
//
//	grove is memory-first. Save writes a checkpoint of the newest committed
//	state (only the newest live version per key); Load restores it. The
//	object layer decides when to checkpoint (on close and every N commits).
package grove
