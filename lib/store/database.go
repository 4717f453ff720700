package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/willowdb/willow/lib/codec"
	"github.com/willowdb/willow/lib/pagestore"
	"github.com/willowdb/willow/lib/pagestore/engines/grove"
	"github.com/willowdb/willow/lib/store/internal"
)

var lg = logger.GetLogger("store")

// openDatabases tracks every open database path in the process together with
// its codec fingerprint. One path, one owner: the page store cannot be
// shared between two Database values.
var openDatabases = xsync.NewMapOf[string, string]()

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a database at open time.
type Options struct {
	// ObjectCodec encodes and decodes object values (nil = gob default).
	ObjectCodec codec.ICodec
	// MetadataCodec encodes and decodes metadata values (nil = gob default).
	// Use codec.NewTimestampCodec for timestamp-only metadata or
	// codec.NewPropertyListCodec for primitive-only metadata.
	MetadataCodec codec.ICodec
	// Engine creates the physical page store (nil = grove default).
	Engine pagestore.Factory
	// CacheLimit bounds every connection's record cache (0 = default 1024).
	CacheLimit int
	// CheckpointEvery persists a checkpoint after that many commits
	// (0 = only on Close and explicit Checkpoint calls).
	CheckpointEvery uint64
}

// DefaultOptions returns the default database options.
func DefaultOptions() *Options {
	return &Options{
		ObjectCodec:   codec.NewGobCodec(),
		MetadataCodec: codec.NewGobCodec(),
		Engine:        func() pagestore.IStore { return grove.New(nil) },
		CacheLimit:    1024,
	}
}

// --------------------------------------------------------------------------
// Database Type
// --------------------------------------------------------------------------

// Database is the process-wide shared handle to one store. It owns the page
// store, the extension registry, the codec configuration and the global
// snapshot counter, and issues connections. The type parameter fixes the key
// shape: PlainKey for a flat store, CollectionKey for a collection-scoped
// one.
type Database[K Key] struct {
	path            string
	objectCodec     codec.ICodec
	metadataCodec   codec.ICodec
	engine          pagestore.IStore
	cacheLimit      int
	checkpointEvery uint64

	// writerMu is the single global writer lock: at most one write
	// transaction is open across the whole database. The extension registry
	// is only mutated while it is held.
	writerMu sync.Mutex

	// regMu serializes extension registration and unregistration end to
	// end, so a conflict check stays valid until the registry change is
	// published.
	regMu sync.Mutex

	// mu guards the registry slice, connection bookkeeping and the
	// snapshot-advance + broadcast step of a commit.
	mu              sync.Mutex
	snapshot        atomic.Uint64
	extensions      []*registeredExtension[K]
	connections     *xsync.MapOf[uint64, *Connection[K]]
	nextConnID      atomic.Uint64
	sinceCheckpoint uint64

	regConn *Connection[K] // internal connection for registration transactions
	closed  atomic.Bool
}

// --------------------------------------------------------------------------
// Open / Close
// --------------------------------------------------------------------------

// Open opens or creates a database at the given path. A nil opts uses the
// defaults (gob codecs, grove engine). Opening fails with RetCOpenError if
// the path is unusable or the path is already open in this process; a reopen
// attempt with different codecs is reported as a codec incompatibility.
func Open[K Key](path string, opts *Options) (*Database[K], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	objectCodec := opts.ObjectCodec
	if objectCodec == nil {
		objectCodec = codec.NewGobCodec()
	}
	metadataCodec := opts.MetadataCodec
	if metadataCodec == nil {
		metadataCodec = codec.NewGobCodec()
	}
	engineFactory := opts.Engine
	if engineFactory == nil {
		engineFactory = func() pagestore.IStore { return grove.New(nil) }
	}
	cacheLimit := opts.CacheLimit
	if cacheLimit <= 0 {
		cacheLimit = 1024
	}

	if path == "" {
		return nil, NewError(RetCOpenError, "empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, NewErrorf(RetCOpenError, "unusable path %q: parent directory missing", path)
		}
	}

	fingerprint := fmt.Sprintf("%T|%T", objectCodec, metadataCodec)
	if existing, loaded := openDatabases.LoadOrStore(path, fingerprint); loaded {
		if existing != fingerprint {
			return nil, NewErrorf(RetCOpenError, "%q is already open with incompatible codecs", path)
		}
		return nil, NewErrorf(RetCOpenError, "%q is already open", path)
	}

	engine := engineFactory()

	if f, err := os.Open(path); err == nil {
		loadErr := engine.Load(f)
		_ = f.Close()
		if loadErr != nil {
			_ = engine.Close()
			openDatabases.Delete(path)
			return nil, NewErrorf(RetCOpenError, "loading %q failed: %v", path, loadErr)
		}
	} else if !os.IsNotExist(err) {
		_ = engine.Close()
		openDatabases.Delete(path)
		return nil, NewErrorf(RetCOpenError, "unusable path %q: %v", path, err)
	}

	db := &Database[K]{
		path:            path,
		objectCodec:     objectCodec,
		metadataCodec:   metadataCodec,
		engine:          engine,
		cacheLimit:      cacheLimit,
		checkpointEvery: opts.CheckpointEvery,
		connections:     xsync.NewMapOf[uint64, *Connection[K]](),
	}
	db.snapshot.Store(engine.LatestCommit())
	db.regConn = db.NewConnection()

	lg.Infof("database opened at %q (snapshot %d)", path, db.snapshot.Load())
	return db, nil
}

// Close checkpoints the database, closes the page store and releases the
// path for reopening. Transactions begun after Close fail; Close blocks
// until a running write transaction has finished.
func (db *Database[K]) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	// wait out a writer in flight
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	err := db.checkpoint()
	if cerr := db.engine.Close(); err == nil {
		err = cerr
	}
	openDatabases.Delete(db.path)

	lg.Infof("database at %q closed (snapshot %d)", db.path, db.snapshot.Load())
	return err
}

// Checkpoint persists the current committed state to the database path.
// It blocks writers for the duration of the save.
func (db *Database[K]) Checkpoint() error {
	if db.closed.Load() {
		return NewError(RetCInvalidOperation, "database is closed")
	}
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.checkpoint()
}

// checkpoint writes the engine state to path via a temp file and an atomic
// rename. Callers hold writerMu.
func (db *Database[K]) checkpoint() error {
	tmp := db.path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return NewErrorf(RetCInternalError, "checkpoint failed: %v", err)
	}
	if err := db.engine.Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return NewErrorf(RetCInternalError, "checkpoint failed: %v", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return NewErrorf(RetCInternalError, "checkpoint failed: %v", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		_ = os.Remove(tmp)
		return NewErrorf(RetCInternalError, "checkpoint failed: %v", err)
	}

	db.mu.Lock()
	db.sinceCheckpoint = 0
	db.mu.Unlock()
	return nil
}

// Path returns the storage location this database was opened at.
func (db *Database[K]) Path() string {
	return db.path
}

// Snapshot returns the global snapshot: the sequence number of the newest
// committed write transaction.
func (db *Database[K]) Snapshot() uint64 {
	return db.snapshot.Load()
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// NewConnection allocates a connection observing the current global
// snapshot, with an empty cache. Connections must be released with Close
// when no longer needed, otherwise they hold back version reclamation in
// the page store.
func (db *Database[K]) NewConnection() *Connection[K] {
	cache, _ := lru.New(db.cacheLimit)

	c := &Connection[K]{
		db:    db,
		id:    db.nextConnID.Add(1),
		cache: cache,
		inbox: internal.NewInbox[*Changeset[K]](),
	}

	// registering and reading the snapshot under mu keeps the connection
	// gap-free: a concurrent commit either happened before (seen in the
	// snapshot) or will be delivered to the inbox
	db.mu.Lock()
	c.local.Store(db.snapshot.Load())
	db.connections.Store(c.id, c)
	db.mu.Unlock()

	return c
}

// removeConnection drops a closed connection from changeset delivery.
func (db *Database[K]) removeConnection(id uint64) {
	db.mu.Lock()
	db.connections.Delete(id)
	db.mu.Unlock()
}

// finishCommit publishes a committed changeset: advances the global
// snapshot, patches the committing connection's cache, enqueues the
// changeset for every other live connection and lets the engine reclaim
// versions nobody observes anymore. Called with writerMu held.
func (db *Database[K]) finishCommit(committer *Connection[K], cs *Changeset[K]) {
	db.mu.Lock()
	db.snapshot.Store(cs.Result)

	db.connections.Range(func(id uint64, c *Connection[K]) bool {
		if c != committer {
			c.inbox.Push(cs)
		}
		return true
	})

	db.sinceCheckpoint++
	wantCheckpoint := db.checkpointEvery > 0 && db.sinceCheckpoint >= db.checkpointEvery
	db.mu.Unlock()

	committer.applyOwnCommit(cs)

	// the registration connection is mostly idle; keep it current so it never
	// pins the retain horizon
	if committer != db.regConn {
		db.regConn.ProcessPendingChangesets()
	}

	db.advanceRetainHorizon()

	if wantCheckpoint {
		if err := db.checkpoint(); err != nil {
			lg.Errorf("periodic checkpoint failed: %v", err)
		}
	}
}

// advanceRetainHorizon tells the engine the oldest snapshot any live
// connection still observes.
func (db *Database[K]) advanceRetainHorizon() {
	min := db.snapshot.Load()
	db.connections.Range(func(_ uint64, c *Connection[K]) bool {
		if local := c.local.Load(); local < min {
			min = local
		}
		return true
	})
	db.engine.SetRetainHorizon(min)
}

// --------------------------------------------------------------------------
// Extension Registry
// --------------------------------------------------------------------------

// RegisterExtension registers ext under the given name and runs its install
// hook inside its own write transaction. It returns false without any state
// change if the name is taken, the instance is already registered under
// another name, or installation fails. After a successful registration every
// subsequently begun transaction invokes the extension's hooks.
func (db *Database[K]) RegisterExtension(ext Extension, name string) bool {
	if ext == nil || name == "" {
		return false
	}

	db.regMu.Lock()
	defer db.regMu.Unlock()

	for _, existing := range db.extensionsSnapshot() {
		if existing.name == name || existing.ext == ext {
			return false
		}
	}

	tx, err := db.regConn.BeginWrite()
	if err != nil {
		return false
	}

	reg := newRegisteredExtension[K](name, ext)

	if reg.install != nil {
		if err := reg.install(newHookContext(tx, name)); err != nil {
			lg.Errorf("installing extension %q failed: %v", name, err)
			tx.Rollback()
			return false
		}
	}

	if err := tx.Commit(); err != nil {
		lg.Errorf("committing installation of extension %q failed: %v", name, err)
		return false
	}

	// publish only once the install state is durable: a transaction must
	// never capture an extension whose installation it cannot see
	reg.seq = db.regConn.Snapshot()
	db.mu.Lock()
	db.extensions = append(db.extensions, reg)
	db.mu.Unlock()

	lg.Infof("extension %q registered", name)
	return true
}

// UnregisterExtension removes the named extension: its uninstall hook and
// the removal of its entire private region run inside one write transaction.
// Returns false if no extension with that name is registered or teardown
// fails.
func (db *Database[K]) UnregisterExtension(name string) bool {
	db.regMu.Lock()
	defer db.regMu.Unlock()

	var reg *registeredExtension[K]
	for _, existing := range db.extensionsSnapshot() {
		if existing.name == name {
			reg = existing
			break
		}
	}
	if reg == nil {
		return false
	}

	tx, err := db.regConn.BeginWrite()
	if err != nil {
		return false
	}

	ctx := newHookContext(tx, name)

	if reg.uninstall != nil {
		if err := reg.uninstall(ctx); err != nil {
			lg.Errorf("uninstalling extension %q failed: %v", name, err)
			tx.Rollback()
			return false
		}
	}

	// wipe the private region
	var subs []string
	if err := ctx.Range("", func(sub string, _ []byte) bool {
		subs = append(subs, sub)
		return true
	}); err != nil {
		tx.Rollback()
		return false
	}
	for _, sub := range subs {
		ctx.Remove(sub)
	}

	db.dropRegistered(name)

	if err := tx.Commit(); err != nil {
		lg.Errorf("committing removal of extension %q failed: %v", name, err)
		db.mu.Lock()
		db.extensions = append(db.extensions, reg)
		db.mu.Unlock()
		return false
	}

	lg.Infof("extension %q unregistered", name)
	return true
}

// dropRegistered removes a registry entry by name, keeping registration
// order for the remaining extensions. The slice is rebuilt rather than
// shifted in place: transactions hold the old header and must keep seeing
// the list they captured at begin.
func (db *Database[K]) dropRegistered(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]*registeredExtension[K], 0, len(db.extensions))
	for _, existing := range db.extensions {
		if existing.name != name {
			out = append(out, existing)
		}
	}
	db.extensions = out
}

// RegisteredExtension returns the extension registered under name.
func (db *Database[K]) RegisteredExtension(name string) (Extension, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, reg := range db.extensions {
		if reg.name == name {
			return reg.ext, true
		}
	}
	return nil, false
}

// RegisteredExtensions returns all currently registered extensions keyed by
// their registered name.
func (db *Database[K]) RegisteredExtensions() map[string]Extension {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make(map[string]Extension, len(db.extensions))
	for _, reg := range db.extensions {
		out[reg.name] = reg.ext
	}
	return out
}

// extensionsSnapshot returns the registration-ordered extension list as of
// now.
func (db *Database[K]) extensionsSnapshot() []*registeredExtension[K] {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.extensions
}

// extensionsAt returns the extensions whose installation is committed at the
// given snapshot, in registration order, for a transaction to capture at
// begin. Install sequences are nondecreasing in registration order, so a
// publication that raced the begin cuts the list at a prefix.
func (db *Database[K]) extensionsAt(snapshot uint64) []*registeredExtension[K] {
	all := db.extensionsSnapshot()
	for i, reg := range all {
		if reg.seq > snapshot {
			return all[:i]
		}
	}
	return all
}

// --------------------------------------------------------------------------
// Codec Plumbing
// --------------------------------------------------------------------------

// encodeRecord encodes a record into its page form using the configured
// codecs. Nil metadata stays nil.
func (db *Database[K]) encodeRecord(rec Record) (pagestore.Page, error) {
	value, err := db.objectCodec.Encode(rec.Value)
	if err != nil {
		return pagestore.Page{}, NewErrorf(RetCInternalError, "encoding value failed: %v", err)
	}

	var meta []byte
	if rec.Meta != nil {
		meta, err = db.metadataCodec.Encode(rec.Meta)
		if err != nil {
			return pagestore.Page{}, NewErrorf(RetCInternalError, "encoding metadata failed: %v", err)
		}
	}

	return pagestore.Page{Value: value, Meta: meta}, nil
}

// decodeRecord decodes a page back into a record.
func (db *Database[K]) decodeRecord(page pagestore.Page) (Record, error) {
	value, err := db.objectCodec.Decode(page.Value)
	if err != nil {
		return Record{}, NewErrorf(RetCInternalError, "decoding value failed: %v", err)
	}

	var meta interface{}
	if len(page.Meta) > 0 {
		meta, err = db.metadataCodec.Decode(page.Meta)
		if err != nil {
			return Record{}, NewErrorf(RetCInternalError, "decoding metadata failed: %v", err)
		}
	}

	return Record{Value: value, Meta: meta}, nil
}
