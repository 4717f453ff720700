package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/willowdb/willow/lib/codec"
)

// openTestDB opens a fresh database in a temp directory and registers
// cleanup. The returned path can be used for reopen tests.
func openTestDB(t *testing.T) (*Database[PlainKey], string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.willow")
	db, err := Open[PlainKey](path, nil)
	if err != nil {
		t.Fatalf("opening database failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func retCode(t *testing.T, err error) RetCode {
	t.Helper()

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a store error, got %T: %v", err, err)
	}
	return e.Code
}

// --------------------------------------------------------------------------
// Basic Operations
// --------------------------------------------------------------------------

func TestSetGetRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	meta := map[string]interface{}{"author": "kim"}
	if err := conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("doc-1", "hello", meta)
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := conn.Read(func(tx *Transaction[PlainKey]) error {
		value, gotMeta, found, err := tx.Get("doc-1")
		if err != nil {
			return err
		}
		if !found {
			t.Fatal("doc-1 not found after commit")
		}
		if value != "hello" {
			t.Errorf("value = %v, want hello", value)
		}
		m, ok := gotMeta.(map[string]interface{})
		if !ok || m["author"] != "kim" {
			t.Errorf("meta = %v, want author=kim", gotMeta)
		}
		return nil
	}); err != nil {
		t.Fatalf("read failed: %v", err)
	}
}

func TestNilMetadata(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	if err := conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("bare", 42, nil)
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.Read(func(tx *Transaction[PlainKey]) error {
		value, meta, found, err := tx.Get("bare")
		if err != nil || !found {
			t.Fatalf("Get = %v, found %v", err, found)
		}
		if value != 42 {
			t.Errorf("value = %v, want 42", value)
		}
		if meta != nil {
			t.Errorf("meta = %v, want nil", meta)
		}
		return nil
	})
}

func TestRemove(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("gone", "soon", nil)
	})
	if err := conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Remove("gone")
	}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	conn.Read(func(tx *Transaction[PlainKey]) error {
		if has, _ := tx.Has("gone"); has {
			t.Error("key still present after removal")
		}
		return nil
	})
}

func TestRemoveAbsentKeyIsNoOp(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	before := db.Snapshot()
	if err := conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Remove("never-existed")
	}); err != nil {
		t.Fatalf("removing an absent key failed: %v", err)
	}
	if after := db.Snapshot(); after != before {
		t.Errorf("snapshot advanced from %d to %d on an empty commit", before, after)
	}
}

func TestStagedWritesVisibleInTransaction(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	conn.Write(func(tx *Transaction[PlainKey]) error {
		if err := tx.Set("staged", "v1", nil); err != nil {
			return err
		}
		value, _, found, err := tx.Get("staged")
		if err != nil || !found {
			t.Fatalf("staged write invisible to own transaction: %v", err)
		}
		if value != "v1" {
			t.Errorf("value = %v, want v1", value)
		}

		if err := tx.Remove("staged"); err != nil {
			return err
		}
		if _, _, found, _ := tx.Get("staged"); found {
			t.Error("staged removal invisible to own transaction")
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Snapshot Isolation
// --------------------------------------------------------------------------

func TestUncommittedWritesInvisible(t *testing.T) {
	db, _ := openTestDB(t)
	writer := db.NewConnection()
	reader := db.NewConnection()
	defer writer.Close()
	defer reader.Close()

	tx, err := writer.BeginWrite()
	if err != nil {
		t.Fatalf("begin write failed: %v", err)
	}
	if err := tx.Set("secret", "draft", nil); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reader.Read(func(rtx *Transaction[PlainKey]) error {
		if has, _ := rtx.Has("secret"); has {
			t.Error("uncommitted write visible to another connection")
		}
		return nil
	})

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	reader.Read(func(rtx *Transaction[PlainKey]) error {
		if has, _ := rtx.Has("secret"); !has {
			t.Error("committed write invisible to another connection")
		}
		return nil
	})
}

func TestReadTransactionPinnedAtSnapshot(t *testing.T) {
	db, _ := openTestDB(t)
	writer := db.NewConnection()
	reader := db.NewConnection()
	defer writer.Close()
	defer reader.Close()

	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("pinned", "old", nil)
	})

	rtx, err := reader.BeginRead()
	if err != nil {
		t.Fatalf("begin read failed: %v", err)
	}

	// a commit happening mid-read must not leak into the open transaction
	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("pinned", "new", nil)
	})

	value, _, _, err := rtx.Get("pinned")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if value != "old" {
		t.Errorf("pinned read transaction saw %v, want old", value)
	}
	rtx.Rollback()

	reader.Read(func(tx *Transaction[PlainKey]) error {
		value, _, _, _ := tx.Get("pinned")
		if value != "new" {
			t.Errorf("fresh transaction saw %v, want new", value)
		}
		return nil
	})
}

func TestSnapshotAdvancesPerCommit(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	other := db.NewConnection()
	defer conn.Close()
	defer other.Close()

	if db.Snapshot() != 0 {
		t.Fatalf("fresh database at snapshot %d, want 0", db.Snapshot())
	}

	conn.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("a", 1, nil)
	})
	if db.Snapshot() != 1 {
		t.Errorf("snapshot = %d after first commit, want 1", db.Snapshot())
	}

	// the other connection catches up when it begins a transaction
	other.Read(func(tx *Transaction[PlainKey]) error {
		if tx.Snapshot() != 1 {
			t.Errorf("transaction snapshot = %d, want 1", tx.Snapshot())
		}
		return nil
	})
	if other.Snapshot() != 1 {
		t.Errorf("connection snapshot = %d, want 1", other.Snapshot())
	}
}

func TestChangesetPatchesRemoteCache(t *testing.T) {
	db, _ := openTestDB(t)
	writer := db.NewConnection()
	reader := db.NewConnection()
	defer writer.Close()
	defer reader.Close()

	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("shared", "v1", nil)
	})

	// populate the reader's cache
	reader.Read(func(tx *Transaction[PlainKey]) error {
		if value, _, _, _ := tx.Get("shared"); value != "v1" {
			t.Errorf("value = %v, want v1", value)
		}
		return nil
	})

	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("shared", "v2", nil)
	})

	// the cached entry must have been patched, not served stale
	reader.Read(func(tx *Transaction[PlainKey]) error {
		if value, _, _, _ := tx.Get("shared"); value != "v2" {
			t.Errorf("value = %v after changeset, want v2", value)
		}
		return nil
	})
}

func TestDrainDeferredWhileTransactionOpen(t *testing.T) {
	db, _ := openTestDB(t)
	writer := db.NewConnection()
	reader := db.NewConnection()
	defer writer.Close()
	defer reader.Close()

	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("pinned", "old", nil)
	})

	rtx, err := reader.BeginRead()
	if err != nil {
		t.Fatalf("begin read failed: %v", err)
	}
	// cache the entry under the pinned snapshot
	if value, _, _, _ := rtx.Get("pinned"); value != "old" {
		t.Fatalf("value = %v, want old", value)
	}
	pinned := rtx.Snapshot()

	writer.Write(func(tx *Transaction[PlainKey]) error {
		return tx.Set("pinned", "new", nil)
	})

	// an explicit drain request must not patch the cache or advance the
	// connection underneath the open transaction
	reader.ProcessPendingChangesets()

	if value, _, _, _ := rtx.Get("pinned"); value != "old" {
		t.Errorf("open transaction saw %v, want old", value)
	}
	if reader.Snapshot() != pinned {
		t.Errorf("connection advanced to %d past its open transaction at %d", reader.Snapshot(), pinned)
	}
	rtx.Rollback()

	// once the transaction is done the drain applies normally
	reader.ProcessPendingChangesets()
	if reader.Snapshot() != db.Snapshot() {
		t.Errorf("idle drain left connection at %d, global is %d", reader.Snapshot(), db.Snapshot())
	}
	reader.Read(func(tx *Transaction[PlainKey]) error {
		if value, _, _, _ := tx.Get("pinned"); value != "new" {
			t.Errorf("value = %v after drain, want new", value)
		}
		return nil
	})
}

func TestSingleWriterCounter(t *testing.T) {
	db, _ := openTestDB(t)

	const workers = 4
	const rounds = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := db.NewConnection()
			defer conn.Close()

			for j := 0; j < rounds; j++ {
				err := conn.Write(func(tx *Transaction[PlainKey]) error {
					value, _, found, err := tx.Get("counter")
					if err != nil {
						return err
					}
					n := 0
					if found {
						n = value.(int)
					}
					return tx.Set("counter", n+1, nil)
				})
				if err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	conn := db.NewConnection()
	defer conn.Close()
	conn.Read(func(tx *Transaction[PlainKey]) error {
		value, _, _, _ := tx.Get("counter")
		if value != workers*rounds {
			t.Errorf("counter = %v, want %d (lost update)", value, workers*rounds)
		}
		return nil
	})
}

func TestEvictedEntriesFallBackToStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny-cache.willow")
	opts := DefaultOptions()
	opts.CacheLimit = 2

	db, err := Open[PlainKey](path, opts)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	conn := db.NewConnection()
	defer conn.Close()

	const n = 8
	conn.Write(func(tx *Transaction[PlainKey]) error {
		for i := 0; i < n; i++ {
			if err := tx.Set(PlainKey(fmt.Sprintf("k%d", i)), i, nil); err != nil {
				return err
			}
		}
		return nil
	})

	// far more keys than cache slots; evicted entries must be re-read from
	// the page store with the same result
	conn.Read(func(tx *Transaction[PlainKey]) error {
		for round := 0; round < 2; round++ {
			for i := 0; i < n; i++ {
				value, _, found, err := tx.Get(PlainKey(fmt.Sprintf("k%d", i)))
				if err != nil || !found {
					t.Fatalf("k%d missing: %v", i, err)
				}
				if value != i {
					t.Errorf("k%d = %v, want %d", i, value, i)
				}
			}
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Transaction Scoping
// --------------------------------------------------------------------------

func TestFinishedTransactionPanics(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	tx, err := conn.BeginWrite()
	if err != nil {
		t.Fatalf("begin write failed: %v", err)
	}
	tx.Set("x", 1, nil)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("writing on a committed transaction did not panic")
		}
	}()
	tx.Set("y", 2, nil)
}

func TestOneTransactionPerConnection(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	tx, err := conn.BeginRead()
	if err != nil {
		t.Fatalf("begin read failed: %v", err)
	}
	defer tx.Rollback()

	if _, err := conn.BeginRead(); retCode(t, err) != RetCInvalidOperation {
		t.Errorf("second transaction on busy connection: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db, _ := openTestDB(t)
	conn := db.NewConnection()
	defer conn.Close()

	before := db.Snapshot()
	tx, _ := conn.BeginWrite()
	tx.Set("discarded", "never", nil)
	tx.Rollback()

	if db.Snapshot() != before {
		t.Errorf("rollback advanced the snapshot")
	}
	conn.Read(func(tx *Transaction[PlainKey]) error {
		if has, _ := tx.Has("discarded"); has {
			t.Error("rolled-back write is visible")
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Open / Reopen
// --------------------------------------------------------------------------

func TestOpenBadPath(t *testing.T) {
	_, err := Open[PlainKey](filepath.Join(t.TempDir(), "missing", "dir", "db"), nil)
	if retCode(t, err) != RetCOpenError {
		t.Errorf("opening under a missing directory: %v", err)
	}
}

func TestOpenPathConflict(t *testing.T) {
	db, path := openTestDB(t)

	if _, err := Open[PlainKey](path, nil); retCode(t, err) != RetCOpenError {
		t.Errorf("second open of %q: %v", path, err)
	}

	opts := DefaultOptions()
	opts.ObjectCodec = codec.NewPropertyListCodec()
	_, err := Open[PlainKey](path, opts)
	if retCode(t, err) != RetCOpenError || !strings.Contains(err.Error(), "incompatible") {
		t.Errorf("reopen with different codecs: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	db2, err := Open[PlainKey](path, nil)
	if err != nil {
		t.Fatalf("reopen after close failed: %v", err)
	}
	db2.Close()
}

func TestCloseCheckpointsAndReopenRestores(t *testing.T) {
	db, path := openTestDB(t)
	conn := db.NewConnection()

	for i := 0; i < 3; i++ {
		conn.Write(func(tx *Transaction[PlainKey]) error {
			return tx.Set(PlainKey(fmt.Sprintf("key-%d", i)), i, nil)
		})
	}
	conn.Close()
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	db2, err := Open[PlainKey](path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()

	if db2.Snapshot() != 3 {
		t.Errorf("reopened snapshot = %d, want 3", db2.Snapshot())
	}

	conn2 := db2.NewConnection()
	defer conn2.Close()
	conn2.Read(func(tx *Transaction[PlainKey]) error {
		for i := 0; i < 3; i++ {
			value, _, found, err := tx.Get(PlainKey(fmt.Sprintf("key-%d", i)))
			if err != nil || !found {
				t.Fatalf("key-%d missing after reopen: %v", i, err)
			}
			if value != i {
				t.Errorf("key-%d = %v, want %d", i, value, i)
			}
		}
		return nil
	})
}

func TestClosedHandlesRejectTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closing.willow")
	db, err := Open[PlainKey](path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	conn := db.NewConnection()
	stale := db.NewConnection()
	stale.Close()

	if _, err := stale.BeginRead(); retCode(t, err) != RetCInvalidOperation {
		t.Errorf("transaction on closed connection: %v", err)
	}

	db.Close()
	if _, err := conn.BeginWrite(); retCode(t, err) != RetCInvalidOperation {
		t.Errorf("transaction on closed database: %v", err)
	}
}

// --------------------------------------------------------------------------
// Collection Keys
// --------------------------------------------------------------------------

func TestCollectionKeysAreScoped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.willow")
	db, err := Open[CollectionKey](path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	conn := db.NewConnection()
	defer conn.Close()

	conn.Write(func(tx *Transaction[CollectionKey]) error {
		if err := tx.Set(CollectionKey{"users", "ada"}, "admin", nil); err != nil {
			return err
		}
		return tx.Set(CollectionKey{"groups", "ada"}, "staff", nil)
	})

	conn.Read(func(tx *Transaction[CollectionKey]) error {
		users, _, _, _ := tx.Get(CollectionKey{"users", "ada"})
		groups, _, _, _ := tx.Get(CollectionKey{"groups", "ada"})
		if users != "admin" || groups != "staff" {
			t.Errorf("same name across collections collided: %v / %v", users, groups)
		}
		return nil
	})

	conn.Write(func(tx *Transaction[CollectionKey]) error {
		return tx.Remove(CollectionKey{"users", "ada"})
	})
	conn.Read(func(tx *Transaction[CollectionKey]) error {
		if has, _ := tx.Has(CollectionKey{"users", "ada"}); has {
			t.Error("removed collection key still present")
		}
		if has, _ := tx.Has(CollectionKey{"groups", "ada"}); !has {
			t.Error("removal leaked into another collection")
		}
		return nil
	})
}
