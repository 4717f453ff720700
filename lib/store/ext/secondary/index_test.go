package secondary

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/willowdb/willow/lib/store"
)

// wordTerms indexes string values by their whitespace-separated words.
func wordTerms(_ store.PlainKey, value interface{}) []string {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	return strings.Fields(s)
}

func openIndexedDB(t *testing.T) (*store.Database[store.PlainKey], *store.Connection[store.PlainKey]) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "indexed.willow")
	db, err := store.Open[store.PlainKey](path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if !db.RegisterExtension(New[store.PlainKey](wordTerms), "words") {
		t.Fatal("index registration failed")
	}

	conn := db.NewConnection()
	t.Cleanup(func() { _ = conn.Close() })
	return db, conn
}

func lookup(t *testing.T, tx *store.Transaction[store.PlainKey], term string) []string {
	t.Helper()

	v, ok := tx.Ext("words")
	if !ok {
		t.Fatal("index view unavailable")
	}
	keys, err := v.(*View[store.PlainKey]).Lookup(term)
	if err != nil {
		t.Fatalf("lookup %q failed: %v", term, err)
	}
	sort.Strings(keys)
	return keys
}

func TestLookupAfterSet(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		if err := tx.Set("note-1", "quick brown fox", nil); err != nil {
			return err
		}
		return tx.Set("note-2", "brown bear", nil)
	})

	conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
		if got := lookup(t, tx, "brown"); len(got) != 2 || got[0] != "note-1" || got[1] != "note-2" {
			t.Errorf("brown -> %v, want [note-1 note-2]", got)
		}
		if got := lookup(t, tx, "fox"); len(got) != 1 || got[0] != "note-1" {
			t.Errorf("fox -> %v, want [note-1]", got)
		}
		if got := lookup(t, tx, "moose"); len(got) != 0 {
			t.Errorf("moose -> %v, want none", got)
		}
		return nil
	})
}

func TestUpdateMovesPostings(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Set("note", "old words", nil)
	})
	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Set("note", "new words", nil)
	})

	conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
		if got := lookup(t, tx, "old"); len(got) != 0 {
			t.Errorf("stale posting survived an update: %v", got)
		}
		if got := lookup(t, tx, "new"); len(got) != 1 {
			t.Errorf("new -> %v, want [note]", got)
		}
		if got := lookup(t, tx, "words"); len(got) != 1 {
			t.Errorf("words -> %v, want [note] (duplicate posting)", got)
		}
		return nil
	})
}

func TestRemoveDropsPostings(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Set("note", "ephemeral", nil)
	})
	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Remove("note")
	})

	conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
		if got := lookup(t, tx, "ephemeral"); len(got) != 0 {
			t.Errorf("posting survived record removal: %v", got)
		}
		return nil
	})
}

func TestLookupSeesStagedWrites(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		if err := tx.Set("draft", "pending", nil); err != nil {
			return err
		}
		// the index must be queryable mid-transaction
		if got := lookup(t, tx, "pending"); len(got) != 1 || got[0] != "draft" {
			t.Errorf("pending -> %v before commit, want [draft]", got)
		}
		return nil
	})
}

func TestDuplicateTermsCollapse(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Set("echo", "say say say", nil)
	})

	conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
		if got := lookup(t, tx, "say"); len(got) != 1 {
			t.Errorf("say -> %v, want a single posting", got)
		}
		return nil
	})
}

func TestContains(t *testing.T) {
	_, conn := openIndexedDB(t)

	conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
		return tx.Set("note", "tagged", nil)
	})

	conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
		v, _ := tx.Ext("words")
		view := v.(*View[store.PlainKey])

		if ok, err := view.Contains("tagged", "note"); err != nil || !ok {
			t.Errorf("Contains(tagged, note) = %v, %v, want true", ok, err)
		}
		if ok, _ := view.Contains("tagged", "other"); ok {
			t.Error("Contains reported a posting that does not exist")
		}
		return nil
	})
}
