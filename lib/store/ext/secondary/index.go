package secondary

import (
	"github.com/willowdb/willow/lib/store"
)

// formatVersion is the private-region format marker written at install time.
const formatVersion byte = 1

// postings are keyed "t:" + term + sep + storage key; sep cannot occur in a
// well-formed term.
const (
	postingPrefix = "t:"
	sep           = "\x1f"
)

// TermsFunc derives the index terms for a record. It is called with the
// record's key and decoded value and must be deterministic: the same record
// always yields the same terms, otherwise postings leak. Terms must not
// contain the byte 0x1f.
type TermsFunc[K store.Key] func(key K, value interface{}) []string

// Index maintains a term -> keys secondary index over record values. It
// implements the write hooks, so postings are updated in lock-step with the
// records they describe and commit atomically with them: after every commit
// the index exactly reflects the indexed records, and a failed write leaves
// no orphaned postings.
//
// Register an Index per database via Database.RegisterExtension and query it
// through the View obtained from Transaction.Ext.
type Index[K store.Key] struct {
	terms TermsFunc[K]
}

// New creates an index deriving terms with the given function.
func New[K store.Key](terms TermsFunc[K]) *Index[K] {
	return &Index[K]{terms: terms}
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

func (ix *Index[K]) Install(ctx *store.HookContext[K]) error {
	ctx.Set("format", []byte{formatVersion})
	return nil
}

// WillSet drops the postings of the record being replaced. Inserts carry no
// old record and nothing is dropped.
func (ix *Index[K]) WillSet(ctx *store.HookContext[K], key K, old, new *store.Record) error {
	if old != nil {
		ix.removePostings(ctx, key, old.Value)
	}
	return nil
}

// DidSet adds the postings for the freshly staged record.
func (ix *Index[K]) DidSet(ctx *store.HookContext[K], key K, new *store.Record) error {
	sk := key.StorageKey()
	for term := range ix.termSet(key, new.Value) {
		ctx.Set(postingKey(term, sk), nil)
	}
	return nil
}

// WillRemove drops all postings of the removed record.
func (ix *Index[K]) WillRemove(ctx *store.HookContext[K], key K, old *store.Record) error {
	ix.removePostings(ctx, key, old.Value)
	return nil
}

// View returns the snapshot-bound query surface as a *View[K].
func (ix *Index[K]) View(ctx *store.HookContext[K]) interface{} {
	return &View[K]{ctx: ctx}
}

func (ix *Index[K]) removePostings(ctx *store.HookContext[K], key K, value interface{}) {
	sk := key.StorageKey()
	for term := range ix.termSet(key, value) {
		ctx.Remove(postingKey(term, sk))
	}
}

// termSet deduplicates the derived terms.
func (ix *Index[K]) termSet(key K, value interface{}) map[string]struct{} {
	terms := ix.terms(key, value)
	set := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		set[term] = struct{}{}
	}
	return set
}

func postingKey(term, sk string) string {
	return postingPrefix + term + sep + sk
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// View is the read surface of an Index, bound to one transaction's snapshot.
// Within a write transaction it observes postings staged earlier in the same
// transaction.
type View[K store.Key] struct {
	ctx *store.HookContext[K]
}

// Lookup returns the storage keys of all records carrying the given term.
// No ordering is guaranteed.
func (v *View[K]) Lookup(term string) ([]string, error) {
	prefix := postingPrefix + term + sep

	var keys []string
	err := v.ctx.Range(prefix, func(sub string, _ []byte) bool {
		keys = append(keys, sub[len(prefix):])
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Contains reports whether the record with the given storage key carries the
// term.
func (v *View[K]) Contains(term, storageKey string) (bool, error) {
	_, found, err := v.ctx.Get(postingKey(term, storageKey))
	return found, err
}
