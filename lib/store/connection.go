package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/willowdb/willow/lib/store/internal"
)

// --------------------------------------------------------------------------
// Connection Type
// --------------------------------------------------------------------------

// Connection is a long-lived handle through which a single goroutine opens
// transactions. It owns a bounded read cache that is kept coherent with
// committed state by applying changesets incrementally, and it tracks the
// snapshot it has fully observed.
//
// A connection is cheap; create one per worker goroutine. The cache is only
// ever mutated by the owning goroutine — changeset delivery from committers
// goes through the inbox and is drained here at transaction begin, never by
// a foreign goroutine touching the cache directly.
type Connection[K Key] struct {
	db *Database[K]
	id uint64

	// mu guards transaction begin/end and changeset application against
	// each other: a snapshot is never assigned while a drain is in progress.
	mu       sync.Mutex
	local    atomic.Uint64 // last snapshot fully observed (written under mu)
	cache    *lru.Cache
	inbox    *internal.Inbox[*Changeset[K]]
	activeTx *Transaction[K]
	closed   bool
}

// Snapshot returns the last snapshot this connection has fully observed.
func (c *Connection[K]) Snapshot() uint64 {
	return c.local.Load()
}

// --------------------------------------------------------------------------
// Transaction Begin
// --------------------------------------------------------------------------

// BeginRead creates a read transaction at the connection's current snapshot.
// It never blocks on the writer. The transaction scope ends with Commit or
// Rollback (equivalent for read transactions); prefer the Read closure form,
// which cannot leak the scope.
func (c *Connection[K]) BeginRead() (*Transaction[K], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.beginCheckLocked(); err != nil {
		return nil, err
	}
	c.drainLocked()

	tx := &Transaction[K]{
		conn:     c,
		snapshot: c.local.Load(),
		state:    txBegun,
		exts:     c.db.extensionsAt(c.local.Load()),
	}
	c.activeTx = tx
	return tx, nil
}

// BeginWrite creates a write transaction. It blocks until no other write
// transaction is open anywhere in the database (single global writer). The
// connection drains its pending changesets first, so the transaction starts
// exactly at the global snapshot.
func (c *Connection[K]) BeginWrite() (*Transaction[K], error) {
	// fail fast without queueing on the writer lock
	c.mu.Lock()
	if err := c.beginCheckLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	c.db.writerMu.Lock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.beginCheckLocked(); err != nil {
		c.db.writerMu.Unlock()
		return nil, err
	}

	c.drainLocked()

	// holding the writer lock means every prior commit has been delivered
	if local, global := c.local.Load(), c.db.snapshot.Load(); local != global {
		c.db.writerMu.Unlock()
		panic(fmt.Sprintf("store: connection at snapshot %d after drain, global is %d", local, global))
	}

	tx := &Transaction[K]{
		conn:      c,
		snapshot:  c.local.Load(),
		writable:  true,
		state:     txBegun,
		staged:    make(map[K]stagedWrite),
		extDeltas: make(map[string]*extDelta),
		exts:      c.db.extensionsAt(c.local.Load()),
	}
	c.activeTx = tx
	return tx, nil
}

// beginCheckLocked validates that a new transaction may start.
func (c *Connection[K]) beginCheckLocked() error {
	if c.closed {
		return NewError(RetCInvalidOperation, "connection is closed")
	}
	if c.db.closed.Load() {
		return NewError(RetCInvalidOperation, "database is closed")
	}
	if c.activeTx != nil {
		return NewError(RetCInvalidOperation, "a transaction is already open on this connection")
	}
	return nil
}

// --------------------------------------------------------------------------
// Closure Forms
// --------------------------------------------------------------------------

// Read runs fn inside a read transaction. The transaction scope is closed on
// every exit path, including panics inside fn.
func (c *Connection[K]) Read(fn func(tx *Transaction[K]) error) error {
	tx, err := c.BeginRead()
	if err != nil {
		return err
	}
	defer func() {
		if tx.state == txBegun {
			tx.Rollback()
		}
	}()

	return fn(tx)
}

// Write runs fn inside a write transaction. If fn returns nil the
// transaction commits; any error (and any panic) rolls it back. This is the
// recommended way to write: the scope cannot leak, even on error paths
// inside extension hooks.
func (c *Connection[K]) Write(fn func(tx *Transaction[K]) error) error {
	tx, err := c.BeginWrite()
	if err != nil {
		return err
	}
	defer func() {
		if tx.state == txBegun {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		if tx.state == txBegun {
			tx.Rollback()
		}
		return err
	}
	if tx.state != txBegun {
		// an extension hook already aborted the transaction
		return NewError(RetCExtensionHookFailed, "transaction was aborted by an extension hook")
	}
	return tx.Commit()
}

// --------------------------------------------------------------------------
// Changeset Application
// --------------------------------------------------------------------------

// ProcessPendingChangesets applies queued changesets immediately instead of
// waiting for the next transaction begin. Useful for long-idle connections
// that want to release retained page-store versions.
//
// While a transaction is open on the connection the call is a no-op: the
// transaction pinned its snapshot at begin, and patching the cache or
// advancing the observed snapshot mid-transaction would leak later commits
// into it. The drain at the next transaction begin catches up instead.
func (c *Connection[K]) ProcessPendingChangesets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.activeTx == nil {
		c.drainLocked()
	}
}

// drainLocked applies all pending changesets in snapshot order, patching the
// cache: updated keys present in the cache are overwritten with the new
// record, removed keys are evicted. Keys the connection never cached are
// ignored. Callers hold c.mu, so no transaction can capture a snapshot
// mid-application.
func (c *Connection[K]) drainLocked() {
	for _, cs := range c.inbox.Drain() {
		local := c.local.Load()
		if cs.Result <= local {
			// already observed (delivered during connection creation)
			continue
		}
		if cs.Result != local+1 {
			panic(fmt.Sprintf("store: changeset gap: at snapshot %d, next changeset is %d", local, cs.Result))
		}

		for key, rec := range cs.Updated {
			if c.cache.Contains(key) {
				c.cache.Add(key, rec)
			}
		}
		for key := range cs.Removed {
			c.cache.Remove(key)
		}

		c.local.Store(cs.Result)
		mChangesets.Inc()
	}
}

// applyOwnCommit patches the cache with the connection's own just-committed
// changeset and advances the observed snapshot. Called from the commit path
// on the owning goroutine.
func (c *Connection[K]) applyOwnCommit(cs *Changeset[K]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, rec := range cs.Updated {
		c.cache.Add(key, rec)
	}
	for key := range cs.Removed {
		c.cache.Remove(key)
	}
	c.local.Store(cs.Result)
}

// endTx clears the active transaction slot.
func (c *Connection[K]) endTx(tx *Transaction[K]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeTx == tx {
		c.activeTx = nil
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// Close releases the connection: a still-open transaction is treated as a
// leak and force-rolled-back, the cache is discarded and the connection
// unregisters from changeset delivery. Close is idempotent.
func (c *Connection[K]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	leaked := c.activeTx
	c.mu.Unlock()

	if leaked != nil {
		lg.Warningf("connection %d closed with an open transaction, rolling back", c.id)
		leaked.Rollback()
	}

	c.mu.Lock()
	c.closed = true
	c.inbox.Close()
	c.cache.Purge()
	c.mu.Unlock()

	c.db.removeConnection(c.id)
	return nil
}
