package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/willowdb/willow/lib/pagestore"
)

// RunStoreTests runs a comprehensive conformance suite for a
// pagestore.IStore implementation.
func RunStoreTests(t *testing.T, name string, factory pagestore.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Apply&Get", func(t *testing.T) {
			testApplyGet(t, factory())
		})

		t.Run("AtomicBatch", func(t *testing.T) {
			testAtomicBatch(t, factory())
		})

		t.Run("SnapshotReads", func(t *testing.T) {
			testSnapshotReads(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("OutOfOrderApply", func(t *testing.T) {
			testOutOfOrderApply(t, factory())
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory())
		})

		t.Run("RetainHorizon", func(t *testing.T) {
			testRetainHorizon(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// apply commits a single put as the next sequence number
func apply(t testing.TB, s pagestore.IStore, key string, value []byte) uint64 {
	t.Helper()

	batch := pagestore.NewBatch()
	batch.Put(key, pagestore.Page{Value: value})

	seq := s.LatestCommit() + 1
	if err := s.Apply(batch, seq); err != nil {
		t.Fatalf("Apply(%q) at seq %d failed: %v", key, seq, err)
	}
	return seq
}

func get(t testing.TB, s pagestore.IStore, key string, at uint64) ([]byte, bool) {
	t.Helper()

	page, found, err := s.Get(key, at)
	if err != nil {
		t.Fatalf("Get(%q, %d) failed: %v", key, at, err)
	}
	return page.Value, found
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testApplyGet(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	if s.LatestCommit() != 0 {
		t.Fatalf("expected empty store at commit 0, got %d", s.LatestCommit())
	}

	seq := apply(t, s, "k1", []byte("v1"))
	if seq != 1 {
		t.Errorf("expected first commit to be 1, got %d", seq)
	}

	value, found := get(t, s, "k1", seq)
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Errorf("expected v1 at seq %d, got %q (found=%t)", seq, value, found)
	}

	// before the commit the key does not exist
	if _, found := get(t, s, "k1", 0); found {
		t.Error("expected k1 to be absent at seq 0")
	}

	if _, found := get(t, s, "missing", seq); found {
		t.Error("expected missing key to be absent")
	}
}

func testAtomicBatch(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	batch := pagestore.NewBatch()
	batch.Put("a", pagestore.Page{Value: []byte("1"), Meta: []byte("m1")})
	batch.Put("b", pagestore.Page{Value: []byte("2")})

	if err := s.Apply(batch, 1); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for _, key := range []string{"a", "b"} {
		if _, found := get(t, s, key, 1); !found {
			t.Errorf("expected %q visible at seq 1", key)
		}
		if _, found := get(t, s, key, 0); found {
			t.Errorf("expected %q absent at seq 0", key)
		}
	}

	page, _, err := s.Get("a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(page.Meta, []byte("m1")) {
		t.Errorf("expected metadata m1, got %q", page.Meta)
	}
}

func testSnapshotReads(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	apply(t, s, "k", []byte("old"))
	apply(t, s, "k", []byte("new"))

	if value, _ := get(t, s, "k", 1); !bytes.Equal(value, []byte("old")) {
		t.Errorf("reader at seq 1 must see old value, got %q", value)
	}
	if value, _ := get(t, s, "k", 2); !bytes.Equal(value, []byte("new")) {
		t.Errorf("reader at seq 2 must see new value, got %q", value)
	}
}

func testDelete(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	apply(t, s, "k", []byte("v"))

	batch := pagestore.NewBatch()
	batch.Delete("k")
	if err := s.Apply(batch, 2); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if _, found := get(t, s, "k", 2); found {
		t.Error("expected k removed at seq 2")
	}
	if _, found := get(t, s, "k", 1); !found {
		t.Error("expected k still visible at seq 1")
	}
}

func testOutOfOrderApply(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	batch := pagestore.NewBatch()
	batch.Put("k", pagestore.Page{Value: []byte("v")})

	if err := s.Apply(batch, 5); err == nil {
		t.Error("expected out-of-order apply to fail")
	}
	if err := s.Apply(batch, 1); err != nil {
		t.Fatalf("in-order apply failed: %v", err)
	}
	if err := s.Apply(batch, 1); err == nil {
		t.Error("expected replayed sequence number to fail")
	}
}

func testRange(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	apply(t, s, "x:1", []byte("a"))
	apply(t, s, "x:2", []byte("b"))
	apply(t, s, "y:1", []byte("c"))

	found := map[string]bool{}
	err := s.Range("x:", 3, func(key string, page pagestore.Page) bool {
		found[key] = true
		return true
	})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}

	if len(found) != 2 || !found["x:1"] || !found["x:2"] {
		t.Errorf("expected exactly x:1 and x:2, got %v", found)
	}

	// range at an old sequence sees only what existed then
	count := 0
	_ = s.Range("x:", 1, func(string, pagestore.Page) bool {
		count++
		return true
	})
	if count != 1 {
		t.Errorf("expected 1 key at seq 1, got %d", count)
	}
}

func testRetainHorizon(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	apply(t, s, "k", []byte("v1"))
	apply(t, s, "k", []byte("v2"))

	s.SetRetainHorizon(2)

	apply(t, s, "k", []byte("v3"))

	// the newest version at the horizon stays readable
	if value, found := get(t, s, "k", 2); !found || !bytes.Equal(value, []byte("v2")) {
		t.Errorf("reader at horizon must still see v2, got %q (found=%t)", value, found)
	}
	if value, _ := get(t, s, "k", 3); !bytes.Equal(value, []byte("v3")) {
		t.Errorf("expected v3 at seq 3, got %q", value)
	}
}

func testSaveLoad(t *testing.T, factory pagestore.Factory) {
	src := factory()
	defer src.Close()

	for i := 0; i < 100; i++ {
		apply(t, src, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	// remove one key so the tombstone is excluded from the checkpoint
	batch := pagestore.NewBatch()
	batch.Delete("key-50")
	if err := src.Apply(batch, src.LatestCommit()+1); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dst := factory()
	defer dst.Close()

	if err := dst.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if dst.LatestCommit() != src.LatestCommit() {
		t.Errorf("expected latest commit %d after load, got %d", src.LatestCommit(), dst.LatestCommit())
	}

	at := dst.LatestCommit()
	if value, found := get(t, dst, "key-7", at); !found || !bytes.Equal(value, []byte("value-7")) {
		t.Errorf("expected value-7 after load, got %q (found=%t)", value, found)
	}
	if _, found := get(t, dst, "key-50", at); found {
		t.Error("expected deleted key to stay absent after load")
	}
}

func testConcurrentReaders(t *testing.T, s pagestore.IStore) {
	defer s.Close()

	apply(t, s, "counter", []byte("0"))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// readers pinned at seq 1 must always see the initial value
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				page, found, err := s.Get("counter", 1)
				if err != nil || !found || !bytes.Equal(page.Value, []byte("0")) {
					t.Errorf("pinned reader saw %q (found=%t, err=%v)", page.Value, found, err)
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		apply(t, s, "counter", []byte(fmt.Sprintf("%d", i+1)))
	}

	close(stop)
	wg.Wait()
}
