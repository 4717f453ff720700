// Package testing provides a reusable conformance suite for pagestore.IStore
// implementations. Engine packages run the suite from their own tests:
//
//	func Test(t *testing.T) {
//		pstesting.RunStoreTests(t, "Grove", func() pagestore.IStore {
//			return grove.New(nil)
//		})
//	}
//
// The suite exercises the two guarantees the object layer depends on —
// atomic multi-key commits and stable point-in-time reads — plus sequence
// ordering, prefix iteration, horizon pruning and checkpoint round trips.
package testing
