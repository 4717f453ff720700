package pagestore

import (
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Page is the unit of storage: the encoded object value and its encoded
// metadata for one storage key.
type Page struct {
	Value []byte
	Meta  []byte
}

// Batch describes one atomic multi-key commit.
type Batch struct {
	Puts    map[string]Page
	Deletes []string
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{Puts: make(map[string]Page)}
}

// Put stages an insert or update for the given storage key.
func (b *Batch) Put(key string, page Page) {
	b.Puts[key] = page
}

// Delete stages a removal for the given storage key.
// A key staged via Put in the same batch is unstaged instead.
func (b *Batch) Delete(key string) {
	if _, ok := b.Puts[key]; ok {
		delete(b.Puts, key)
	}
	b.Deletes = append(b.Deletes, key)
}

// Empty reports whether the batch stages no changes.
func (b *Batch) Empty() bool {
	return len(b.Puts) == 0 && len(b.Deletes) == 0
}

// --------------------------------------------------------------------------
// Store Interface
// --------------------------------------------------------------------------

// IStore is the interface of the physical page store underneath the object
// layer. An implementation must provide atomic multi-key commits, totally
// ordered by a commit sequence number, and consistent point-in-time reads
// as of any retained sequence number (one writer, many readers).
//
// Commit sequence numbers start at 0 (empty store) and increase by exactly
// one per applied batch.
type IStore interface {

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// Get retrieves the page for a key as of the given commit sequence number.
	// The boolean return value indicates whether the key existed at that point.
	// Reads never block writers and are unaffected by concurrent Apply calls.
	Get(key string, at uint64) (page Page, found bool, err error)

	// Range iterates all keys with the given prefix as of the given commit
	// sequence number. Iteration stops early when fn returns false.
	// No ordering of keys is guaranteed.
	Range(prefix string, at uint64, fn func(key string, page Page) bool) error

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply atomically commits a batch as sequence number seq.
	// seq must be exactly LatestCommit()+1; any other value is an error and
	// the store is left unchanged. Callers must serialize Apply calls.
	Apply(batch *Batch, seq uint64) error

	// --------------------------------------------------------------------------
	// Sequence Management
	// --------------------------------------------------------------------------

	// LatestCommit returns the sequence number of the newest applied batch,
	// or 0 if the store is empty.
	LatestCommit() (seq uint64)

	// SetRetainHorizon tells the store that no reader will ever ask for a
	// view older than seq, allowing it to reclaim stale versions.
	// The horizon only ever moves forward; lower values are ignored.
	SetRetainHorizon(seq uint64)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists a checkpoint of the newest committed state to the writer.
	Save(w io.Writer) (err error)

	// Load restores a previously saved checkpoint from the reader.
	// It must only be called before the store is otherwise in use.
	Load(r io.Reader) (err error)

	// Close releases all resources held by the store.
	Close() (err error)
}

// Factory is a function type that creates a new page store.
// It is used to abstract the creation of the store from the object layer.
type Factory func() IStore

// WrapError wraps a store-specific error so implementation details never
// leak to callers of the object layer.
func WrapError(op string, err error) error {
	return fmt.Errorf("pagestore: %s: %w", op, err)
}
