package store

// Changeset is the immutable description of what one write transaction
// changed. The committing connection applies it to its own cache and every
// other live connection receives it through its inbox, so caches are patched
// incrementally instead of being invalidated wholesale.
//
// Result is always Base+1 and changesets are applied strictly in Result
// order, never skipped, never reordered.
type Changeset[K Key] struct {
	// Base is the snapshot the write transaction started from.
	Base uint64
	// Result is the snapshot the commit produced (Base+1).
	Result uint64
	// Updated maps every inserted or updated key to its new record.
	Updated map[K]Record
	// Removed holds every removed key.
	Removed map[K]struct{}
	// Ext maps extension names to the private-region changes the commit
	// carried for them. Opaque to the core; extensions do not patch
	// connection caches.
	Ext map[string]ExtensionDelta
}

// ExtensionDelta is the private-region change of one extension within one
// commit, keyed by the extension's own sub-keys.
type ExtensionDelta struct {
	Puts    map[string][]byte
	Removed []string
}
