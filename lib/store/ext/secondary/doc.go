// Package secondary provides a term-based secondary index as a store
// extension. A TermsFunc derives index terms from record values; the index
// keeps its postings in its private region and updates them atomically with
// every record write. Queries go through the snapshot-bound View returned by
// Transaction.Ext.
package secondary
