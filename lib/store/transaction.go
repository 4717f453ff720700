package store

import (
	"fmt"

	"github.com/willowdb/willow/lib/pagestore"
)

// --------------------------------------------------------------------------
// Transaction State
// --------------------------------------------------------------------------

type txState uint8

const (
	txBegun txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txBegun:
		return "Begun"
	case txCommitted:
		return "Committed"
	case txRolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Transaction Type
// --------------------------------------------------------------------------

// Transaction is a scoped execution context bound to one connection. Its
// snapshot is fixed at begin and never changes: a read transaction sees a
// fully consistent view as of that snapshot no matter what a concurrent
// writer does. A write transaction additionally stages changes and invokes
// extension hooks; staging becomes visible to others only at Commit.
//
// A Transaction must never outlive its begin/end scope and must never be
// shared across goroutines. Using a finished transaction is a scoping bug
// and panics.
type Transaction[K Key] struct {
	conn     *Connection[K]
	snapshot uint64
	writable bool
	state    txState

	// write transactions only
	staged    map[K]stagedWrite
	extDeltas map[string]*extDelta
	exts      []*registeredExtension[K]
}

// stagedWrite is one accumulated record change: either a new encoded page
// or a removal.
type stagedWrite struct {
	rec     Record
	page    pagestore.Page
	removed bool
}

// extDelta accumulates one extension's private-region writes.
type extDelta struct {
	puts    map[string][]byte
	deletes map[string]struct{}
}

// --------------------------------------------------------------------------
// State Helpers
// --------------------------------------------------------------------------

// mustActive panics if the transaction has already been committed or rolled
// back. Misuse of a finished transaction is a programmer error and must not
// be silently ignored.
func (tx *Transaction[K]) mustActive(op string) {
	if tx.state != txBegun {
		panic(fmt.Sprintf("store: %s on %s transaction", op, tx.state))
	}
}

// mustWritable panics if the transaction is finished or read-only.
func (tx *Transaction[K]) mustWritable(op string) {
	tx.mustActive(op)
	if !tx.writable {
		panic(fmt.Sprintf("store: %s on read-only transaction", op))
	}
}

// Snapshot returns the snapshot this transaction observes.
func (tx *Transaction[K]) Snapshot() uint64 {
	return tx.snapshot
}

// Writable reports whether this is a write transaction.
func (tx *Transaction[K]) Writable() bool {
	return tx.writable
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the value and metadata stored for key. The boolean return
// value indicates whether the key exists; a miss is a normal result, not an
// error. A write transaction sees its own staged writes.
func (tx *Transaction[K]) Get(key K) (value, meta interface{}, found bool, err error) {
	tx.mustActive("read")

	rec, found, err := tx.lookup(key)
	if err != nil || !found {
		return nil, nil, false, err
	}
	return rec.Value, rec.Meta, true, nil
}

// Has reports whether key exists without decoding anything beyond what a
// cache miss requires.
func (tx *Transaction[K]) Has(key K) (bool, error) {
	tx.mustActive("read")

	_, found, err := tx.lookup(key)
	return found, err
}

// lookup resolves a key: staged writes first (write transactions), then the
// connection cache, then the page store (populating the cache).
func (tx *Transaction[K]) lookup(key K) (Record, bool, error) {
	if tx.writable {
		if w, ok := tx.staged[key]; ok {
			if w.removed {
				return Record{}, false, nil
			}
			return w.rec, true, nil
		}
	}

	if cached, ok := tx.conn.cache.Get(key); ok {
		mCacheHits.Inc()
		return cached.(Record), true, nil
	}
	mCacheMisses.Inc()

	db := tx.conn.db
	page, found, err := db.engine.Get(recordKey(key.StorageKey()), tx.snapshot)
	if err != nil {
		return Record{}, false, NewErrorf(RetCInternalError, "read of %q failed: %v", key.StorageKey(), err)
	}
	if !found {
		return Record{}, false, nil
	}

	rec, err := db.decodeRecord(page)
	if err != nil {
		return Record{}, false, err
	}

	tx.conn.cache.Add(key, rec)
	return rec, true, nil
}

// Ext returns the registered extension's read surface for this transaction,
// bound to the transaction's snapshot. For extensions without a view the
// extension instance itself is returned. The boolean return value indicates
// whether an extension with that name was registered when the transaction
// began.
func (tx *Transaction[K]) Ext(name string) (interface{}, bool) {
	tx.mustActive("extension access")

	for _, reg := range tx.exts {
		if reg.name == name {
			if reg.view != nil {
				return reg.view(newHookContext(tx, name)), true
			}
			return reg.ext, true
		}
	}
	return nil, false
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Set stages an insert or update of key with the given value and metadata.
// Extension hooks run synchronously: WillSet before staging with the old and
// new record, DidSet after. A hook error aborts and rolls back the whole
// transaction and Set returns RetCExtensionHookFailed.
func (tx *Transaction[K]) Set(key K, value, meta interface{}) error {
	tx.mustWritable("write")

	old, oldFound, err := tx.lookup(key)
	if err != nil {
		return err
	}
	var oldRef *Record
	if oldFound {
		oldRef = &old
	}

	newRec := Record{Value: value, Meta: meta}

	for _, reg := range tx.exts {
		if reg.willSet == nil {
			continue
		}
		if err := reg.willSet(newHookContext(tx, reg.name), key, oldRef, &newRec); err != nil {
			return tx.abortOnHook(reg.name, err)
		}
	}

	page, err := tx.conn.db.encodeRecord(newRec)
	if err != nil {
		return err
	}
	tx.staged[key] = stagedWrite{rec: newRec, page: page}

	for _, reg := range tx.exts {
		if reg.didSet == nil {
			continue
		}
		if err := reg.didSet(newHookContext(tx, reg.name), key, &newRec); err != nil {
			return tx.abortOnHook(reg.name, err)
		}
	}

	return nil
}

// Remove stages a removal of key. Removing an absent key is a no-op and
// invokes no hooks. For existing keys WillRemove runs before staging with
// the old record and DidRemove after; a hook error aborts and rolls back the
// whole transaction.
func (tx *Transaction[K]) Remove(key K) error {
	tx.mustWritable("write")

	old, found, err := tx.lookup(key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	for _, reg := range tx.exts {
		if reg.willRemove == nil {
			continue
		}
		if err := reg.willRemove(newHookContext(tx, reg.name), key, &old); err != nil {
			return tx.abortOnHook(reg.name, err)
		}
	}

	tx.staged[key] = stagedWrite{removed: true}

	for _, reg := range tx.exts {
		if reg.didRemove == nil {
			continue
		}
		if err := reg.didRemove(newHookContext(tx, reg.name), key); err != nil {
			return tx.abortOnHook(reg.name, err)
		}
	}

	return nil
}

// extDelta returns (creating on first use) the staged private-region delta
// of the named extension.
func (tx *Transaction[K]) extDelta(name string) *extDelta {
	delta, ok := tx.extDeltas[name]
	if !ok {
		delta = &extDelta{puts: make(map[string][]byte), deletes: make(map[string]struct{})}
		tx.extDeltas[name] = delta
	}
	return delta
}

// abortOnHook rolls the transaction back after a failed extension hook.
// No partial index or record state survives.
func (tx *Transaction[K]) abortOnHook(name string, err error) error {
	mHookFailures.Inc()
	lg.Warningf("extension %q hook failed, rolling back: %v", name, err)
	tx.Rollback()
	return NewErrorf(RetCExtensionHookFailed, "extension %q: %v", name, err)
}

// --------------------------------------------------------------------------
// Commit / Rollback
// --------------------------------------------------------------------------

// Commit atomically writes the accumulated record changes and all extension
// deltas to the page store, advances the global snapshot, patches the own
// connection's cache and enqueues the changeset for every other live
// connection. On a read transaction Commit simply ends the scope.
//
// A commit with nothing staged ends the transaction without advancing the
// snapshot; no empty changesets are broadcast.
func (tx *Transaction[K]) Commit() error {
	tx.mustActive("commit")

	if !tx.writable {
		tx.state = txCommitted
		tx.conn.endTx(tx)
		return nil
	}

	batch := tx.buildBatch()
	if batch.Empty() {
		tx.state = txCommitted
		tx.conn.endTx(tx)
		tx.conn.db.writerMu.Unlock()
		return nil
	}

	seq := tx.snapshot + 1
	if err := tx.conn.db.engine.Apply(batch, seq); err != nil {
		// the store rejected the batch; the transaction is rolled back and
		// the writer lock released so the system stays usable
		tx.state = txRolledBack
		mRollbacks.Inc()
		tx.conn.endTx(tx)
		tx.conn.db.writerMu.Unlock()
		lg.Errorf("commit %d failed: %v", seq, err)
		return NewErrorf(RetCCommitConflict, "commit %d failed: %v", seq, err)
	}

	cs := tx.buildChangeset(seq)
	tx.conn.db.finishCommit(tx.conn, cs)

	tx.state = txCommitted
	mCommits.Inc()
	tx.conn.endTx(tx)
	tx.conn.db.writerMu.Unlock()
	return nil
}

// Rollback discards all accumulated changes and extension deltas without
// touching the page store or the snapshot counter, and releases the write
// lock if held. Rolling back a read transaction just ends its scope.
func (tx *Transaction[K]) Rollback() {
	tx.mustActive("rollback")

	tx.state = txRolledBack
	if tx.writable {
		mRollbacks.Inc()
	}
	tx.conn.endTx(tx)
	if tx.writable {
		tx.conn.db.writerMu.Unlock()
	}
}

// buildBatch assembles the atomic page-store batch from staged records and
// extension deltas.
func (tx *Transaction[K]) buildBatch() *pagestore.Batch {
	batch := pagestore.NewBatch()

	for key, w := range tx.staged {
		sk := recordKey(key.StorageKey())
		if w.removed {
			batch.Delete(sk)
		} else {
			batch.Put(sk, w.page)
		}
	}

	for name, delta := range tx.extDeltas {
		for sub, value := range delta.puts {
			batch.Put(extKey(name, sub), pagestore.Page{Value: value})
		}
		for sub := range delta.deletes {
			batch.Delete(extKey(name, sub))
		}
	}

	return batch
}

// buildChangeset freezes the staged state into the broadcastable changeset.
func (tx *Transaction[K]) buildChangeset(seq uint64) *Changeset[K] {
	cs := &Changeset[K]{
		Base:    tx.snapshot,
		Result:  seq,
		Updated: make(map[K]Record),
		Removed: make(map[K]struct{}),
		Ext:     make(map[string]ExtensionDelta, len(tx.extDeltas)),
	}

	for key, w := range tx.staged {
		if w.removed {
			cs.Removed[key] = struct{}{}
		} else {
			cs.Updated[key] = w.rec
		}
	}

	for name, delta := range tx.extDeltas {
		ed := ExtensionDelta{Puts: make(map[string][]byte, len(delta.puts))}
		for sub, value := range delta.puts {
			ed.Puts[sub] = value
		}
		for sub := range delta.deletes {
			ed.Removed = append(ed.Removed, sub)
		}
		cs.Ext[name] = ed
	}

	return cs
}

// --------------------------------------------------------------------------
// Storage Key Layout
// --------------------------------------------------------------------------

// Records and extension regions share one page store, separated by prefix.
const (
	recordPrefix  = "r:"
	extAreaPrefix = "e:"
)

func recordKey(sk string) string { return recordPrefix + sk }

func extKey(name, sub string) string { return extAreaPrefix + name + ":" + sub }
