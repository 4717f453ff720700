package store

import "github.com/willowdb/willow/lib/pagestore"

// --------------------------------------------------------------------------
// Extension Capability Interfaces
// --------------------------------------------------------------------------

// Extension is a pluggable unit maintaining derived state (secondary
// indexes, filtered views, ...) in lock-step with core writes. An extension
// declares its capabilities by implementing any subset of the interfaces
// below; the framework detects them once at registration time and invokes
// only the hooks an extension actually has.
//
// All hooks run synchronously inside the invoking write transaction and
// participate in its atomic commit: a hook error aborts and rolls back the
// whole transaction, never leaving partial index state. Hooks must not call
// Commit or Rollback on the enclosing transaction. Hooks are invoked for
// every key, not just keys relevant to the extension; relevance is the
// extension's own decision.
//
// Extensions should be pointer types: the registry uses identity to detect
// an instance being registered twice under different names.
type Extension interface{}

// Installer is implemented by extensions that need to set up private state
// when they are first registered. Install runs inside its own write
// transaction.
type Installer[K Key] interface {
	Install(ctx *HookContext[K]) error
}

// Uninstaller is implemented by extensions that want to run teardown logic
// on unregistration. The framework removes the extension's entire private
// region afterwards either way.
type Uninstaller[K Key] interface {
	Uninstall(ctx *HookContext[K]) error
}

// WillSetter is invoked before a key is staged. old is nil for inserts.
type WillSetter[K Key] interface {
	WillSet(ctx *HookContext[K], key K, old, new *Record) error
}

// DidSetter is invoked after a key has been staged.
type DidSetter[K Key] interface {
	DidSet(ctx *HookContext[K], key K, new *Record) error
}

// WillRemover is invoked before an existing key is staged for removal.
type WillRemover[K Key] interface {
	WillRemove(ctx *HookContext[K], key K, old *Record) error
}

// DidRemover is invoked after an existing key has been staged for removal.
type DidRemover[K Key] interface {
	DidRemove(ctx *HookContext[K], key K) error
}

// Viewer is implemented by extensions that expose a read surface. The value
// returned by View is what Transaction.Ext hands to callers, bound to the
// transaction's snapshot.
type Viewer[K Key] interface {
	View(ctx *HookContext[K]) interface{}
}

// --------------------------------------------------------------------------
// Capability Table
// --------------------------------------------------------------------------

// registeredExtension binds an extension instance to its registered name and
// its resolved capability table. The type assertions happen exactly once at
// registration; hook dispatch afterwards is a nil check and a direct call.
type registeredExtension[K Key] struct {
	name string
	ext  Extension
	seq  uint64 // commit sequence of the install transaction, set at publish

	install    func(*HookContext[K]) error
	uninstall  func(*HookContext[K]) error
	willSet    func(*HookContext[K], K, *Record, *Record) error
	didSet     func(*HookContext[K], K, *Record) error
	willRemove func(*HookContext[K], K, *Record) error
	didRemove  func(*HookContext[K], K) error
	view       func(*HookContext[K]) interface{}
}

// newRegisteredExtension resolves the capability table for an extension.
func newRegisteredExtension[K Key](name string, ext Extension) *registeredExtension[K] {
	reg := &registeredExtension[K]{name: name, ext: ext}

	if v, ok := ext.(Installer[K]); ok {
		reg.install = v.Install
	}
	if v, ok := ext.(Uninstaller[K]); ok {
		reg.uninstall = v.Uninstall
	}
	if v, ok := ext.(WillSetter[K]); ok {
		reg.willSet = v.WillSet
	}
	if v, ok := ext.(DidSetter[K]); ok {
		reg.didSet = v.DidSet
	}
	if v, ok := ext.(WillRemover[K]); ok {
		reg.willRemove = v.WillRemove
	}
	if v, ok := ext.(DidRemover[K]); ok {
		reg.didRemove = v.DidRemove
	}
	if v, ok := ext.(Viewer[K]); ok {
		reg.view = v.View
	}

	return reg
}

// --------------------------------------------------------------------------
// Hook Context
// --------------------------------------------------------------------------

// HookContext is the handle an extension receives in every hook and view.
// It scopes reads and writes to the extension's private region of the page
// store, addressed by extension-chosen sub-keys. Writes are staged into the
// enclosing transaction and commit atomically with the record changes.
type HookContext[K Key] struct {
	tx   *Transaction[K]
	name string
}

func newHookContext[K Key](tx *Transaction[K], name string) *HookContext[K] {
	return &HookContext[K]{tx: tx, name: name}
}

// Snapshot returns the snapshot the enclosing transaction observes.
func (h *HookContext[K]) Snapshot() uint64 {
	return h.tx.snapshot
}

// Get reads a sub-key from the extension's private region, observing writes
// staged earlier in the same transaction.
func (h *HookContext[K]) Get(sub string) ([]byte, bool, error) {
	h.tx.mustActive("extension read")

	if delta, ok := h.tx.extDeltas[h.name]; ok {
		if _, removed := delta.deletes[sub]; removed {
			return nil, false, nil
		}
		if value, ok := delta.puts[sub]; ok {
			return value, true, nil
		}
	}

	page, found, err := h.tx.conn.db.engine.Get(extKey(h.name, sub), h.tx.snapshot)
	if err != nil {
		return nil, false, NewErrorf(RetCInternalError, "extension read failed: %v", err)
	}
	if !found {
		return nil, false, nil
	}
	return page.Value, true, nil
}

// Set stages a write to a sub-key of the extension's private region.
// Only valid inside a write transaction.
func (h *HookContext[K]) Set(sub string, value []byte) {
	h.tx.mustWritable("extension write")

	delta := h.tx.extDelta(h.name)
	delete(delta.deletes, sub)
	delta.puts[sub] = value
}

// Remove stages a removal of a sub-key of the extension's private region.
// Only valid inside a write transaction.
func (h *HookContext[K]) Remove(sub string) {
	h.tx.mustWritable("extension write")

	delta := h.tx.extDelta(h.name)
	delete(delta.puts, sub)
	delta.deletes[sub] = struct{}{}
}

// Range iterates all sub-keys of the extension's private region with the
// given prefix, merged with writes staged in the same transaction.
// Iteration stops early when fn returns false. No ordering is guaranteed.
func (h *HookContext[K]) Range(prefix string, fn func(sub string, value []byte) bool) error {
	h.tx.mustActive("extension range")

	ns := extKey(h.name, "")
	delta := h.tx.extDeltas[h.name]

	// staged sub-keys first, so committed state can be skipped below
	visited := make(map[string]struct{})
	if delta != nil {
		for sub, value := range delta.puts {
			if len(sub) < len(prefix) || sub[:len(prefix)] != prefix {
				continue
			}
			visited[sub] = struct{}{}
			if !fn(sub, value) {
				return nil
			}
		}
	}

	err := h.tx.conn.db.engine.Range(ns+prefix, h.tx.snapshot, func(key string, page pagestore.Page) bool {
		sub := key[len(ns):]
		if _, ok := visited[sub]; ok {
			return true
		}
		if delta != nil {
			if _, removed := delta.deletes[sub]; removed {
				return true
			}
		}
		return fn(sub, page.Value)
	})
	if err != nil {
		return NewErrorf(RetCInternalError, "extension range failed: %v", err)
	}
	return nil
}
