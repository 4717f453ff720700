// Package store implements an embedded object persistence engine with
// snapshot-isolated concurrency and a pluggable extension framework.
//
// A Database is the process-wide shared handle: it owns the page store, the
// codecs, the extension registry and the global snapshot counter. Work goes
// through per-goroutine Connections, each holding a bounded record cache that
// is patched incrementally by changesets broadcast from committed write
// transactions. Transactions are pinned to the snapshot current at begin:
// readers never block and never see a concurrent writer's changes, while a
// single global writer serializes all mutations.
//
// The key shape is a type parameter: PlainKey gives a flat keyspace,
// CollectionKey a collection-scoped one. Values and metadata are stored as
// separate encoded streams, each with its own configurable codec.
//
// Extensions (see Extension and the capability interfaces) maintain derived
// state such as secondary indexes in lock-step with core writes. Their hooks
// run inside the invoking write transaction and commit atomically with it.
//
// Thread-safety: a Database and its exported methods are safe for concurrent
// use. A Connection and its Transactions belong to one goroutine at a time.
package store
